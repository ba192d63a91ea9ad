// Package cli implements omwscl, the command line client of omws.
package cli

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmodeller/omws/client"
	"github.com/openmodeller/omws/ticket"
)

// SimpleClient holds the state shared by every command.
type SimpleClient struct {
	RootCmd  *cobra.Command
	Addr     string
	LogLevel string
	Tries    int
	Client   *client.Client
	Out      io.Writer
}

// Cmd is one omwscl subcommand.
type Cmd interface {
	RegisterFlags() *cobra.Command
	Run(cl *SimpleClient, cmd *cobra.Command, args []string) error
}

func (c *SimpleClient) Exec() error {
	return c.RootCmd.Execute()
}

func NewSimpleCLIClient() *SimpleClient {
	c := &SimpleClient{Out: os.Stdout}
	c.RootCmd = &cobra.Command{
		Use:               "omwscl",
		Short:             "omwscl is a command-line client to the openModeller web service",
		SilenceUsage:      true,
		PersistentPreRunE: c.Init,
		Run:               func(*cobra.Command, []string) {},
	}
	c.RootCmd.PersistentFlags().StringVar(&c.Addr, "addr", client.DefaultAddr, "omws server address")
	c.RootCmd.PersistentFlags().StringVar(&c.LogLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")
	c.RootCmd.PersistentFlags().IntVar(&c.Tries, "tries", client.DefaultHttpTries, "Attempts per request, with exponential backoff")

	c.addCmd(&pingCmd{})
	c.addCmd(&submitCmd{})
	c.addCmd(&runExperimentCmd{})
	c.addCmd(&getProgressCmd{})
	c.addCmd(&getResultCmd{})
	c.addCmd(&getResultsCmd{})
	c.addCmd(&cancelCmd{})
	c.addCmd(&getLogCmd{})
	c.addCmd(&getStateCmd{})
	c.addCmd(&watchCmd{})
	return c
}

// Can only be called from cobra command run or hook
func (c *SimpleClient) Init(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.Client == nil {
		c.Client = client.NewCustomClient(c.Addr, client.MakePesterClient(c.Tries))
	}
	return nil
}

func (c *SimpleClient) addCmd(cmd Cmd) {
	cobraCmd := cmd.RegisterFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.Run(c, innerCmd, args)
	}
	c.RootCmd.AddCommand(cobraCmd)
}

func (c *SimpleClient) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}

// readInput reads a file, or stdin for "-".
func readInput(name string) ([]byte, error) {
	if name == "-" {
		return ioutil.ReadAll(os.Stdin)
	}
	return ioutil.ReadFile(name)
}

func parseIDs(args []string) ([]ticket.ID, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one ticket is required")
	}
	ids := make([]ticket.ID, 0, len(args))
	for _, arg := range args {
		list, err := ticket.ParseIDList(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, list...)
	}
	return ids, nil
}
