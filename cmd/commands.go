package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storefront/internal/analytics"
	"storefront/internal/domain"
	"storefront/internal/inventory"
	"storefront/internal/service"
)

var (
	granularity string
	adminName   string
	adminEmail  string
	adminPass   string

	analyticsCmd = &cobra.Command{
		Use:   "analytics",
		Short: "Sales analytics",
	}
	analyticsReportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print the sales report as JSON",
		RunE:  runAnalyticsReport,
	}

	inventoryCmd = &cobra.Command{
		Use:   "inventory",
		Short: "Stock levels",
	}
	inventoryLowCmd = &cobra.Command{
		Use:   "low",
		Short: "List products at or below their restock level",
		RunE:  runInventoryLow,
	}

	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	adminCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE:  runAdminCreate,
	}
)

func init() {
	analyticsReportCmd.Flags().StringVarP(&granularity, "granularity", "g", "monthly", "daily, weekly or monthly")
	analyticsCmd.AddCommand(analyticsReportCmd)

	inventoryCmd.AddCommand(inventoryLowCmd)

	adminCreateCmd.Flags().StringVar(&adminName, "name", "Admin", "display name")
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	adminCreateCmd.Flags().StringVar(&adminPass, "password", "", "login password (min 6 characters)")
	_ = adminCreateCmd.MarkFlagRequired("email")
	_ = adminCreateCmd.MarkFlagRequired("password")
	adminCmd.AddCommand(adminCreateCmd)
}

func runAnalyticsReport(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := analytics.NewService(a.store.Orders(), cfg.Location(), logger).Report(cmd.Context(), analytics.ParseGranularity(granularity))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func runInventoryLow(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := inventory.NewService(a.store, nil, nil, logger).Load(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tQUANTITY\tRESTOCK AT")
	for e := range snap.LowStock() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", e.ID, e.ProductName, e.Quantity, e.RestockLevel)
	}
	return tw.Flush()
}

func runAdminCreate(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := service.NewUserService(a.store.Users(), nil, logger).Create(cmd.Context(), service.UserInput{
		Name:     adminName,
		Email:    adminEmail,
		Role:     domain.RoleAdmin,
		Password: adminPass,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "created admin %d <%s>\n", u.ID, u.Email)
	return nil
}
