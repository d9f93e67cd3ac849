package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	"github.com/spf13/cobra"
)

func newSagaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Inspect stored saga instances",
	}
	cmd.AddCommand(newSagaFindCommand(a))
	return cmd
}

func newSagaFindCommand(a *app) *cobra.Command {
	var sagaType, property, value string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find a saga instance by a correlation property",
		Example: "  gobus saga find --type OrderSaga --property OrderId --value 42\n" +
			"  gobus saga find --type OrderSaga --value 7f1c0b1e-4a25-4a43-9d6e-0c1f3d5b9a10",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.sagaStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			instance, err := store.Find(cmd.Context(), sagaType, property, value)
			if err != nil {
				return err
			}
			if instance == nil {
				return fmt.Errorf("no %s saga with %s = %s", sagaType, property, value)
			}

			out, err := json.MarshalIndent(instance, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&sagaType, "type", "", "saga type")
	cmd.Flags().StringVar(&property, "property", saga.IDPropertyName, "correlation property name")
	cmd.Flags().StringVar(&value, "value", "", "correlation property value")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}
