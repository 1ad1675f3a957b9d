// Command licensectl is the Issuer operator's admin CLI: create customers,
// list them, revoke a machine or customer, and push an upgrade — the
// SUPPLEMENTED FEATURES admin surface  exposed as a
// web console but this repo exposes as a cobra CLI run on the Issuer host,
// reading the same bbolt store issuerd serves from. Grounded on the
// teacher's use of spf13/cobra for its own operator-facing subcommands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/config"
	"github.com/nainovate/license-authority/internal/issuer"
	"github.com/nainovate/license-authority/internal/store"
	"github.com/nainovate/license-authority/internal/tiers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "licensectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "licensectl",
		Short: "Administer customers and machine activations for a license Issuer",
	}

	root.AddCommand(
		newCreateCustomerCmd(cfg),
		newListCmd(cfg),
		newRevokeCmd(cfg),
		newUpgradeCmd(cfg),
	)
	return root
}

func openEngine(cfg *config.Config) (*issuer.Engine, *store.Store, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	keys, err := certs.EnsureKeyPair(cfg.KeyDir)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("load signing key pair: %w", err)
	}
	engine := issuer.NewEngine(s, keys, clock.Real{}, cfg.RegistryURL, cfg.RegistryUsername, cfg.RegistryToken)
	return engine, s, nil
}

func newCreateCustomerCmd(cfg *config.Config) *cobra.Command {
	var tier, services string
	var quota, validDays int

	cmd := &cobra.Command{
		Use:   "create-customer <display-name>",
		Short: "Create a customer and mint a fresh product key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, s, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			var allowed []string
			if services != "" {
				allowed = strings.Split(services, ",")
			}

			result, err := engine.CreateCustomer(issuer.CreateCustomerRequest{
				DisplayName:     args[0],
				Tier:            tiers.Name(tier),
				MachineQuota:    quota,
				ValidDays:       validDays,
				AllowedServices: allowed,
			})
			if err != nil {
				return fmt.Errorf("create customer: %w", err)
			}

			fmt.Printf("customer_id=%s product_key=%s\n", result.CustomerID, result.ProductKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&tier, "tier", string(tiers.Trial), "license tier (trial, basic, pro, enterprise)")
	cmd.Flags().StringVar(&services, "services", "", "comma-separated allowed docker services (default: tier's defaults)")
	cmd.Flags().IntVar(&quota, "machine-quota", 0, "machine quota (0 = tier default)")
	cmd.Flags().IntVar(&validDays, "valid-days", 0, "validity period in days (0 = tier default)")
	return cmd
}

func newListCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List customers and their machine counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			customers, err := s.ListCustomers()
			if err != nil {
				return fmt.Errorf("list customers: %w", err)
			}
			for _, c := range customers {
				count, err := s.CountActiveMachines(c.ID)
				if err != nil {
					return fmt.Errorf("count machines for %s: %w", c.ID, err)
				}
				status := "active"
				if c.Revoked {
					status = "revoked"
				}
				fmt.Printf("%s\t%s\t%s\t%s\tmachines=%d/%d\n",
					c.ID, c.DisplayName, c.Tier, status, count, c.MachineQuota)
			}
			return nil
		},
	}
	return cmd
}

func newRevokeCmd(cfg *config.Config) *cobra.Command {
	var machineID, customerID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a machine or an entire customer (irreversible)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if machineID == "" && customerID == "" {
				return fmt.Errorf("one of --machine or --customer is required")
			}
			engine, s, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := engine.Revoke(issuer.RevokeTarget{MachineID: machineID, CustomerID: customerID}); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Println("revoked")
			return nil
		},
	}

	cmd.Flags().StringVar(&machineID, "machine", "", "machine id to revoke")
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id to revoke (revokes every machine's customer record)")
	return cmd
}

func newUpgradeCmd(cfg *config.Config) *cobra.Command {
	var fingerprint, newTier, services string
	var additionalDays, newMachineLimit int

	cmd := &cobra.Command{
		Use:   "upgrade <machine-fingerprint>",
		Short: "Push a tier/quota/validity upgrade to an already-activated machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fingerprint = args[0]
			engine, s, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			var additionalServices []string
			if services != "" {
				additionalServices = strings.Split(services, ",")
			}

			outcome, err := engine.Upgrade(issuer.UpgradeRequest{
				Fingerprint:        fingerprint,
				NewTier:            tiers.Name(newTier),
				AdditionalDays:     additionalDays,
				NewMachineLimit:    newMachineLimit,
				AdditionalServices: additionalServices,
			})
			if err != nil {
				return fmt.Errorf("upgrade: %w", err)
			}
			if outcome.Reason != issuer.ReasonOK {
				return fmt.Errorf("upgrade refused: %s", outcome.Reason)
			}

			out, err := json.MarshalIndent(outcome.Certificate, "", "  ")
			if err != nil {
				return fmt.Errorf("encode certificate: %w", err)
			}
			fmt.Printf("upgraded %s -> %s\n%s\n", outcome.OldTier, outcome.NewTier, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&newTier, "tier", "", "new tier (empty = leave unchanged)")
	cmd.Flags().StringVar(&services, "add-services", "", "comma-separated docker services to add")
	cmd.Flags().IntVar(&additionalDays, "additional-days", 0, "days to extend validity by")
	cmd.Flags().IntVar(&newMachineLimit, "machine-limit", 0, "new machine quota (0 = unchanged)")
	return cmd
}
