package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headerkit/source-agent/internal/config"
	"github.com/headerkit/source-agent/internal/httpengine"
	"github.com/headerkit/source-agent/internal/source"
)

func newTestRequestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-request",
		Short: "Run one HTTP request the way a source would, without storing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := testRequestFromFlags(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			engineCfg := httpengine.DefaultConfig()
			engineCfg.Timeout = config.ParseDurationOr(cfg.HTTP.Timeout, engineCfg.Timeout)

			engine := httpengine.New(nil, engineCfg)
			defer engine.Dispose()

			result, err := engine.Test(cmd.Context(), req)
			if err != nil {
				return err
			}

			output, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(output)); err != nil {
				return err
			}
			if result.Error != "" {
				return fmt.Errorf("request failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().String("url", "", "Request URL (required)")
	cmd.Flags().String("method", source.DefaultMethod, "HTTP method")
	cmd.Flags().StringArray("header", nil, `Request header as "Name: value" (repeatable)`)
	cmd.Flags().String("filter", "", "JSON path applied to the response body")
	cmd.Flags().String("body", "", "Request body")
	cmd.Flags().String("totp-secret", "", "Base32 secret for _TOTP_CODE placeholders")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func testRequestFromFlags(cmd *cobra.Command) (source.CreateRequest, error) {
	flags := cmd.Flags()
	url, _ := flags.GetString("url")
	method, _ := flags.GetString("method")
	headers, _ := flags.GetStringArray("header")
	filter, _ := flags.GetString("filter")
	body, _ := flags.GetString("body")
	secret, _ := flags.GetString("totp-secret")

	req := source.CreateRequest{
		Type:   source.TypeHTTP,
		Path:   url,
		Method: method,
		RequestOptions: source.RequestOptions{
			Body:       body,
			TOTPSecret: secret,
		},
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return req, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		req.RequestOptions.Headers = append(req.RequestOptions.Headers, source.KeyValue{
			Key:   strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	if filter != "" {
		req.JSONFilter = source.JSONFilter{Enabled: true, Path: filter}
	}
	return req, nil
}
