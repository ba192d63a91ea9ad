package cli

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/workflow"
)

type pingCmd struct{}

func (c *pingCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{Use: "ping", Short: "Checks that the service answers"}
}

func (c *pingCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	if err := cl.Client.Ping(); err != nil {
		return err
	}
	cl.printf("ok\n")
	return nil
}

type submitCmd struct {
	jobType string
	file    string
}

func (c *submitCmd) RegisterFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "submit",
		Short: "Submits a standalone job and prints its ticket",
	}
	r.Flags().StringVar(&c.jobType, "type", "", "job type: samp, model, test, proj or eval")
	r.Flags().StringVar(&c.file, "file", "-", "request document, - for stdin")
	return r
}

func (c *submitCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	jobType, err := ticket.ParseJobType(c.jobType)
	if err != nil {
		return err
	}
	request, err := readInput(c.file)
	if err != nil {
		return err
	}
	id, err := cl.Client.Submit(jobType, request)
	if err != nil {
		return err
	}
	log.Infof("submitted %s job %s", jobType.Name(), id)
	cl.printf("%s\n", id)
	return nil
}

type runExperimentCmd struct {
	file string
}

func (c *runExperimentCmd) RegisterFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run_experiment",
		Short: "Submits an experiment and prints its ticket and the ticket of each job",
	}
	r.Flags().StringVar(&c.file, "file", "-", "experiment document, - for stdin")
	return r
}

func (c *runExperimentCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	submission, err := readInput(c.file)
	if err != nil {
		return err
	}
	exp, err := cl.Client.SubmitExperiment(submission)
	if err != nil {
		return err
	}
	asJson, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	cl.printf("%s\n", asJson)
	return nil
}

type getProgressCmd struct{}

func (c *getProgressCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_progress TICKET[,TICKET...]",
		Short: "Prints the progress of tickets",
	}
}

func (c *getProgressCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	progress, err := cl.Client.GetProgress(ids...)
	if err != nil {
		return err
	}
	for _, p := range progress {
		cl.printf("%s %d\n", p.Ticket, p.Progress)
	}
	return nil
}

type getResultCmd struct{}

func (c *getResultCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_result TICKET",
		Short: "Prints the result document of a finished job",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *getResultCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	result, err := cl.Client.GetResult(ticket.ID(args[0]))
	if err != nil {
		return err
	}
	cl.printf("%s\n", result)
	return nil
}

type getResultsCmd struct{}

func (c *getResultsCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_results TICKET[,TICKET...]",
		Short: "Prints the results of jobs and of the finished jobs of experiments",
	}
}

func (c *getResultsCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	results, err := cl.Client.GetResults(ids...)
	if err != nil {
		return err
	}
	asJson, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	cl.printf("%s\n", asJson)
	return nil
}

type cancelCmd struct{}

func (c *cancelCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TICKET[,TICKET...]",
		Short: "Cancels jobs that have not started, or whole experiments",
	}
}

func (c *cancelCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	cancelled, err := cl.Client.Cancel(ids...)
	if err != nil {
		return err
	}
	for _, id := range cancelled {
		cl.printf("%s\n", id)
	}
	return nil
}

type getLogCmd struct{}

func (c *getLogCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_log TICKET",
		Short: "Prints the log of the experiment a ticket belongs to",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *getLogCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	data, err := cl.Client.GetLog(ticket.ID(args[0]))
	if err != nil {
		return err
	}
	cl.printf("%s", data)
	return nil
}

type getStateCmd struct{}

func (c *getStateCmd) RegisterFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_state TICKET",
		Short: "Prints the state of a ticket",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *getStateCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	state, err := cl.Client.GetState(ticket.ID(args[0]))
	if err != nil {
		return err
	}
	cl.printf("%s\n", state)
	return nil
}

// watchCmd polls a ticket until it reaches a terminal state.
type watchCmd struct {
	interval time.Duration
	timeout  time.Duration
}

func (c *watchCmd) RegisterFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "watch TICKET",
		Short: "Waits for a ticket to finish, printing its progress as it changes",
		Args:  cobra.ExactArgs(1),
	}
	r.Flags().DurationVar(&c.interval, "interval", time.Second, "polling interval")
	r.Flags().DurationVar(&c.timeout, "timeout", 0, "give up after this long, 0 waits forever")
	return r
}

func (c *watchCmd) Run(cl *SimpleClient, cmd *cobra.Command, args []string) error {
	id := ticket.ID(args[0])
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	last := ticket.ProgressUnknown - 1
	for {
		state, err := cl.Client.GetState(id)
		if err != nil {
			return err
		}
		progress, err := cl.Client.GetProgress(id)
		if err != nil {
			return err
		}
		if len(progress) == 0 {
			return fmt.Errorf("no progress reported for %s", id)
		}
		if p := progress[0].Progress; p != last {
			cl.printf("%s %s %d\n", id, state, p)
			last = p
		}
		switch state {
		case workflow.Succeeded.String():
			return nil
		case workflow.Failed.String(), workflow.Cancelled.String():
			return fmt.Errorf("%s %s", id, state)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%s still %s after %s", id, state, c.timeout)
		}
		time.Sleep(c.interval)
	}
}
