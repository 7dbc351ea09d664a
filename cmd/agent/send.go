package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Chichichkin/forgelog/internal/logging"
)

func sendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message, or every line of stdin when no message is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(v.GetString("level"))
			if err != nil {
				return err
			}
			fields, err := parseFields(v.GetStringSlice("field"))
			if err != nil {
				return err
			}

			e, err := newEngine(v)
			if err != nil {
				return err
			}

			opts := []logging.RecordOption{logging.WithContext(fields)}
			if source := v.GetString("source"); source != "" {
				opts = append(opts, logging.WithSource(source))
			}
			if fp := v.GetString("fingerprint"); fp != "" {
				opts = append(opts, logging.WithFingerprint(fp))
			}

			if len(args) == 1 {
				e.Log(level, args[0], opts...)
			} else if err := sendLines(e, cmd.InOrStdin(), level, opts); err != nil {
				e.Shutdown()
				return err
			}

			e.Shutdown()
			return e.Wait(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("level", "info", "record level")
	flags.StringSlice("field", nil, "context field as key=value, repeatable")
	flags.String("source", "", "record source")
	flags.String("fingerprint", "", "record fingerprint")

	return cmd
}

func sendLines(p logging.Producer, r io.Reader, level logging.Level, opts []logging.RecordOption) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			p.Log(level, line, opts...)
		}
	}
	return scanner.Err()
}

func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("invalid field %q, expected key=value", pair)
		}
		fields[k] = val
	}
	return fields, nil
}
