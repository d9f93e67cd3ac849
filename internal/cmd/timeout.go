package cmd

import (
	"errors"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/abecu-hub/go-bus/pkg/servicebus/mutation"
	"github.com/spf13/cobra"
	"time"
)

func newTimeoutCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeout",
		Short: "Defer messages and inspect due timeouts",
	}
	cmd.AddCommand(newTimeoutDeferCommand(a), newTimeoutDueCommand(a))
	return cmd
}

func newTimeoutDeferCommand(a *app) *cobra.Command {
	var (
		in          time.Duration
		at          string
		recipient   string
		messageType string
		body        string
		headers     map[string]string
	)
	cmd := &cobra.Command{
		Use:     "defer",
		Short:   "Store a message until it is due",
		Example: "  gobus timeout defer --in 10m --recipient OrderService --type PaymentTimedOut --body '{\"OrderId\":42}'",
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := dueTime(in, at, time.Now())
			if err != nil {
				return err
			}
			manager, err := a.timeoutManager()
			if err != nil {
				return err
			}

			mutations := []servicebus.Mutation{mutation.DeferUntil(due, recipient)}
			if messageType != "" {
				mutations = append(mutations, mutation.Type(messageType))
			}
			msg := servicebus.NewMessage(headers, []byte(body), mutations...)
			if err = manager.Defer(cmd.Context(), due, msg.Headers, msg.Body); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deferred %s until %s\n", msg.MessageId(), due.UTC().Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().DurationVar(&in, "in", 0, "delay relative to now")
	cmd.Flags().StringVar(&at, "at", "", "absolute due time (RFC 3339)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "queue the message is sent to once due")
	cmd.Flags().StringVar(&messageType, "type", "", "message type header")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "additional headers (key=value)")
	cmd.MarkFlagsMutuallyExclusive("in", "at")
	return cmd
}

func dueTime(in time.Duration, at string, now time.Time) (time.Time, error) {
	if at == "" {
		return now.Add(in), nil
	}
	due, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due time %q: %w", at, err)
	}
	return due, nil
}

func newTimeoutDueCommand(a *app) *cobra.Command {
	var complete bool
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List messages that are due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.timeoutManager()
			if err != nil {
				return err
			}
			due, err := manager.GetDueMessages(cmd.Context())
			if err != nil {
				return err
			}
			defer due.Release()

			out := cmd.OutOrStdout()
			count := 0
			for m, err := range due.All() {
				if err != nil {
					return err
				}
				msg := servicebus.Message{Headers: m.Headers, Body: m.Body}
				_, err = fmt.Fprintf(out, "%s\t%s\t%s\t%d bytes\n",
					msg.MessageId(),
					m.Headers[servicebus.HeaderDeferredUntil],
					m.Headers[servicebus.HeaderDeferredRecipient],
					len(m.Body))
				if err != nil {
					return err
				}
				if complete {
					if err = m.Complete(); err != nil {
						return errors.Join(fmt.Errorf("could not complete %s", msg.MessageId()), err)
					}
				}
				count++
			}
			_, err = fmt.Fprintf(out, "%d due\n", count)
			return err
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "remove the listed messages")
	return cmd
}
