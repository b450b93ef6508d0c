package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/app"
	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// withApp opens the local client, probes the remote once and runs fn.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, application *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		application, _, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()
		probeOnce(cmd.Context(), application)
		return fn(cmd.Context(), cmd, application)
	}
}

func optionalFlag(cmd *cobra.Command, name string) *string {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return nil
	}
	return &value
}

func decimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("--%s: %w", name, err)
	}
	return value, nil
}

func deleteCommand(use string, remove func(ctx context.Context, application *app.App, id int64) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a " + use,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			id, _ := cmd.Flags().GetInt64("id")
			return remove(ctx, application, id)
		}),
	}
	cmd.Flags().Int64("id", 0, use+" id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRouteCommand() *cobra.Command {
	root := &cobra.Command{Use: "route", Short: "Manage collection routes"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a route",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			name, _ := cmd.Flags().GetString("name")
			route, err := application.Repositories.Routes.Add(ctx, lending.Route{
				Name:        name,
				Description: optionalFlag(cmd, "description"),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), route)
		}),
	}
	add.Flags().String("name", "", "Route name")
	add.Flags().String("description", "", "Route description")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			routes, err := application.Repositories.Routes.List(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), routes)
		}),
	}

	root.AddCommand(add, list, deleteCommand("route", func(ctx context.Context, application *app.App, id int64) error {
		return application.Repositories.Routes.Delete(ctx, id)
	}))
	return root
}

func newClientCommand() *cobra.Command {
	root := &cobra.Command{Use: "client", Short: "Manage borrowers"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			name, _ := cmd.Flags().GetString("name")
			cedula, _ := cmd.Flags().GetString("cedula")
			address, _ := cmd.Flags().GetString("address")
			mobile, _ := cmd.Flags().GetString("mobile")
			client, err := application.Repositories.Clients.Add(ctx, lending.Client{
				Name:              name,
				Cedula:            cedula,
				Address:           address,
				Mobile:            mobile,
				Nickname:          optionalFlag(cmd, "nickname"),
				BusinessReference: optionalFlag(cmd, "business"),
				Phone:             optionalFlag(cmd, "phone"),
				Balance:           decimal.Zero,
				UpToDate:          true,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), client)
		}),
	}
	add.Flags().String("name", "", "Client name")
	add.Flags().String("cedula", "", "National id")
	add.Flags().String("address", "", "Address")
	add.Flags().String("mobile", "", "Mobile number")
	add.Flags().String("nickname", "", "Nickname")
	add.Flags().String("business", "", "Business reference")
	add.Flags().String("phone", "", "Landline number")
	for _, required := range []string{"name", "cedula", "address", "mobile"} {
		_ = add.MarkFlagRequired(required)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			clients, err := application.Repositories.Clients.List(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), clients)
		}),
	}

	find := &cobra.Command{
		Use:   "find",
		Short: "Find a client by cedula, asking the remote service when it is not stored locally",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			cedula, _ := cmd.Flags().GetString("cedula")
			local, err := application.Repositories.Clients.FindByCedula(ctx, cedula)
			if err == nil {
				return writeJSON(cmd.OutOrStdout(), local)
			}
			remote, err := application.Repositories.Clients.LookupRemoteByCedula(ctx, cedula)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), remote)
		}),
	}
	find.Flags().String("cedula", "", "National id")
	_ = find.MarkFlagRequired("cedula")

	root.AddCommand(add, list, find, deleteCommand("client", func(ctx context.Context, application *app.App, id int64) error {
		return application.Repositories.Clients.Delete(ctx, id)
	}))
	return root
}

func newLoanCommand() *cobra.Command {
	root := &cobra.Command{Use: "loan", Short: "Manage loans"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Lend to a client identified by cedula",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			principal, err := decimalFlag(cmd, "capital")
			if err != nil {
				return err
			}
			rate, err := decimalFlag(cmd, "interest")
			if err != nil {
				return err
			}
			cedula, _ := cmd.Flags().GetString("cedula")
			routeID, _ := cmd.Flags().GetInt64("route")
			installments, _ := cmd.Flags().GetInt("installments")
			frequency, _ := cmd.Flags().GetString("frequency")
			loan, err := application.Repositories.Loans.Add(ctx, lending.LoanTerms{
				Cedula:           cedula,
				RouteID:          routeID,
				Principal:        principal,
				InterestRate:     rate,
				Installments:     installments,
				PaymentFrequency: frequency,
				IssuedAt:         time.Now(),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), loan)
		}),
	}
	add.Flags().String("cedula", "", "Client national id")
	add.Flags().Int64("route", 0, "Route id")
	add.Flags().String("capital", "", "Principal amount")
	add.Flags().String("interest", "0", "Interest as a fraction of the principal (0.30 = 30%)")
	add.Flags().Int("installments", 0, "Number of installments")
	add.Flags().String("frequency", lending.FrequencyWeekly, "Payment frequency (Diario, Semanal, Quincenal, Mensual)")
	for _, required := range []string{"cedula", "route", "capital", "installments"} {
		_ = add.MarkFlagRequired(required)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loans, optionally for one cedula",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			cedula, _ := cmd.Flags().GetString("cedula")
			if cedula != "" {
				loans, err := application.Repositories.Loans.ListByCedula(ctx, cedula)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), loans)
			}
			loans, err := application.Repositories.Loans.List(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), loans)
		}),
	}
	list.Flags().String("cedula", "", "Only loans of this national id")

	root.AddCommand(add, list, deleteCommand("loan", func(ctx context.Context, application *app.App, id int64) error {
		return application.Repositories.Loans.Delete(ctx, id)
	}))
	return root
}

func newPaymentCommand() *cobra.Command {
	root := &cobra.Command{Use: "payment", Short: "Record collected payments"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Record a payment against a loan",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			loanID, _ := cmd.Flags().GetInt64("loan")
			payment, err := application.Repositories.Payments.Add(ctx, loanID, amount, time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payment)
		}),
	}
	add.Flags().Int64("loan", 0, "Loan id")
	add.Flags().String("amount", "", "Amount collected")
	_ = add.MarkFlagRequired("loan")
	_ = add.MarkFlagRequired("amount")

	update := &cobra.Command{
		Use:   "update",
		Short: "Correct a recorded payment",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			id, _ := cmd.Flags().GetInt64("id")
			current, err := application.Repositories.Payments.Get(ctx, id)
			if err != nil {
				return err
			}
			changed := current.Payment
			if cmd.Flags().Changed("amount") {
				if changed.Amount, err = decimalFlag(cmd, "amount"); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("loan") {
				changed.LoanID, _ = cmd.Flags().GetInt64("loan")
			}
			payment, err := application.Repositories.Payments.Update(ctx, changed)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payment)
		}),
	}
	update.Flags().Int64("id", 0, "Payment id")
	update.Flags().Int64("loan", 0, "Loan id")
	update.Flags().String("amount", "", "Amount collected")
	_ = update.MarkFlagRequired("id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List payments, optionally for one loan",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, application *app.App) error {
			loanID, _ := cmd.Flags().GetInt64("loan")
			if loanID != 0 {
				payments, err := application.Repositories.Payments.ListByLoan(ctx, loanID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), payments)
			}
			payments, err := application.Repositories.Payments.List(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payments)
		}),
	}
	list.Flags().Int64("loan", 0, "Only payments of this loan")

	root.AddCommand(add, update, list, deleteCommand("payment", func(ctx context.Context, application *app.App, id int64) error {
		return application.Repositories.Payments.Delete(ctx, id)
	}))
	return root
}
