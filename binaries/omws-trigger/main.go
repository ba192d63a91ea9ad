// omws-trigger runs the workflow trigger for one finished ticket. External
// executors call it after writing a job's result and progress; it promotes
// the dependents that became runnable or stops the experiment on failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	omwserrors "github.com/openmodeller/omws/common/errors"
	"github.com/openmodeller/omws/common/log/hooks"
	"github.com/openmodeller/omws/common/stats"
	"github.com/openmodeller/omws/config"
	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/workflow"
)

type triggerFlags struct {
	ticket      string
	configFlag  string
	logLevel    string
	skipRequest bool
	createDone  bool
}

func main() {
	log.AddHook(hooks.NewContextHook())
	if err := makeRootCmd(os.Stdout).Execute(); err != nil {
		log.Error(err)
		os.Exit(int(omwserrors.GetExitCode(err)))
	}
}

func makeRootCmd(out io.Writer) *cobra.Command {
	f := &triggerFlags{}
	root := &cobra.Command{
		Use:           "omws-trigger",
		Short:         "Advances the experiment of a finished ticket",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(f, out)
		},
	}
	root.PersistentFlags().StringVar(&f.ticket, "ticket", "", "the finished ticket")
	root.PersistentFlags().StringVar(&f.configFlag, "config", "default", "config name, JSON file or JSON text")
	root.PersistentFlags().StringVar(&f.logLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")
	root.Flags().BoolVar(&f.skipRequest, "skip-request", false, "move promoted requests straight to proc")
	root.Flags().BoolVar(&f.createDone, "create-done", false, "mark the ticket done at the end of the run")

	root.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Dumps a ticket's metadata and derived status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(f, out)
		},
	})
	return root
}

// setup parses the common flags and opens the configured store.
func setup(f *triggerFlags) (ticket.ID, *config.Config, ticket.Store, error) {
	level, err := log.ParseLevel(f.logLevel)
	if err != nil {
		return "", nil, nil, omwserrors.NewError(err, omwserrors.UsageExitCode)
	}
	log.SetLevel(level)

	id, err := ticket.ParseID(f.ticket)
	if err != nil {
		return "", nil, nil, omwserrors.NewError(err, omwserrors.UsageExitCode)
	}
	cfg, err := config.Load(f.configFlag)
	if err != nil {
		return "", nil, nil, omwserrors.NewError(err, omwserrors.UsageExitCode)
	}
	store, err := cfg.MakeStore()
	if err != nil {
		return "", nil, nil, omwserrors.NewError(err, omwserrors.StorageFailureExitCode)
	}
	return id, cfg, store, nil
}

func runTrigger(f *triggerFlags, out io.Writer) error {
	id, cfg, store, err := setup(f)
	if err != nil {
		return err
	}
	defer store.Close()
	log.AddHook(hooks.NewExperimentLogHook(store))

	tc := cfg.TriggerConfig()
	tc.SkipRequest = tc.SkipRequest || f.skipRequest
	tc.CreateDone = tc.CreateDone || f.createDone
	stat := stats.NilStatsReceiver()
	trigger := workflow.NewTrigger(store, workflow.NewCascade(store, tc.LockTimeout, stat), tc, stat)

	outcome, err := trigger.Run(context.Background(), id)
	if err != nil {
		return classify(err)
	}
	log.WithFields(log.Fields{
		"ticket":   id,
		"promoted": outcome.Promoted,
		"finished": outcome.Finished,
		"stopped":  outcome.Stopped,
	}).Debug("trigger done")
	for _, p := range outcome.Promoted {
		fmt.Fprintln(out, p)
	}
	return nil
}

func classify(err error) error {
	switch errors.Cause(err) {
	case ticket.ErrLockUnavailable:
		return omwserrors.NewError(err, omwserrors.LockUnavailableExitCode)
	case ticket.ErrNotFound:
		return omwserrors.NewError(err, omwserrors.UsageExitCode)
	default:
		return omwserrors.NewError(err, omwserrors.StorageFailureExitCode)
	}
}

type inspection struct {
	Ticket   ticket.ID
	Type     string
	State    string
	Progress int
	Metadata []ticket.Entry
}

func runInspect(f *triggerFlags, out io.Writer) error {
	id, cfg, store, err := setup(f)
	if err != nil {
		return err
	}
	defer store.Close()

	md, err := store.ReadMetadata(id)
	if err != nil {
		return classify(err)
	}
	jobType, err := md.Type()
	if err != nil {
		return classify(err)
	}
	state, err := workflow.ReadState(store, id)
	if err != nil {
		return classify(err)
	}
	aggregator, err := workflow.NewAggregator(store, cfg.Service.MetadataCacheSize, stats.NilStatsReceiver())
	if err != nil {
		return err
	}
	progress, err := aggregator.Progress(id)
	if err != nil {
		return classify(err)
	}
	spew.Fdump(out, inspection{
		Ticket:   id,
		Type:     jobType.Name(),
		State:    state.String(),
		Progress: progress,
		Metadata: md.Entries,
	})
	return nil
}
