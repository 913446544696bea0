package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/api"
	"github.com/foundrymidi/bridge/internal/catalog"
	"github.com/foundrymidi/bridge/internal/config"
	"github.com/foundrymidi/bridge/internal/midi"
	"github.com/foundrymidi/bridge/model"
)

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available MIDI input devices",
		RunE: func(_ *cobra.Command, _ []string) error {
			opener, err := midi.NewRTOpener()
			if err != nil {
				return err
			}
			defer opener.Close()

			devices, err := opener.Devices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no MIDI input devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to the configured API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			if cfg.API.BaseURL == "" {
				return fmt.Errorf("no API base URL configured")
			}

			gateway := api.NewGateway(model.APIConfig{
				BaseURL:  cfg.API.BaseURL,
				APIKey:   cfg.API.Key,
				ClientID: cfg.API.ClientID,
				Timeout:  cfg.API.Timeout,
			}, zap.NewNop())

			ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
			defer cancel()
			if err := gateway.Probe(ctx); err != nil {
				return fmt.Errorf("probe %s: %w", cfg.API.BaseURL, err)
			}
			fmt.Printf("connected to %s\n", cfg.API.BaseURL)

			clients, err := gateway.Clients(ctx)
			if err != nil {
				return nil // connectivity confirmed; client list is best effort
			}
			for _, c := range clients {
				fmt.Printf("client %s (instance %s)\n", c.ID, c.InstanceID)
			}
			return nil
		},
	}
}

func newEndpointsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "List endpoints available for mapping",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var endpoints []model.EndpointDescriptor
			if cfg.Catalog.Source == "openapi" {
				cat, err := catalog.FromOpenAPI(ctx, cfg.Catalog.SpecFile)
				if err != nil {
					return err
				}
				endpoints = cat.Endpoints()
			} else {
				if cfg.API.BaseURL == "" {
					return fmt.Errorf("no API base URL configured")
				}
				gateway := api.NewGateway(model.APIConfig{
					BaseURL:  cfg.API.BaseURL,
					APIKey:   cfg.API.Key,
					ClientID: cfg.API.ClientID,
					Timeout:  cfg.API.Timeout,
				}, zap.NewNop())
				endpoints, err = gateway.EndpointDocs(ctx)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "METHOD\tPATH\tREQUIRED\tDESCRIPTION")
			for _, e := range endpoints {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Method, e.Path, paramNames(e.RequiredParameters), e.Description)
			}
			return w.Flush()
		},
	}
}

func paramNames(params []model.ParameterDescriptor) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return strings.Join(names, ",")
}
