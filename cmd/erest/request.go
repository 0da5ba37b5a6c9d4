package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/RassulYunussov/erestclient"
	"github.com/RassulYunussov/erestclient/config"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

var itemSegment = regexp.MustCompile(`^([^()]+)\(([^()]*)\)$`)

type requestFlags struct {
	configPath    string
	debug         int
	groupSlash    bool
	discreteSlash bool
	maxTries      int
	maxTime       time.Duration
	headers       []string
	query         []string
	data          string
	jq            string
	logLevel      string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	p := cmd.PersistentFlags()
	p.StringVar(&f.configPath, "config", "", "YAML configuration file")
	p.IntVar(&f.debug, "debug", 0, "render full request/response dumps in errors when > 0")
	p.BoolVar(&f.groupSlash, "group-slash", false, "append / after collection segments")
	p.BoolVar(&f.discreteSlash, "discrete-slash", false, "append / after item segments")
	p.IntVar(&f.maxTries, "max-tries", erestclient.DefaultRetryMaxTries, "maximum attempts per call, 0 for no limit")
	p.DurationVar(&f.maxTime, "max-time", erestclient.DefaultRetryMaxTime, "maximum time per call, 0 for no limit")
	p.StringArrayVarP(&f.headers, "header", "H", nil, "request header as 'Key: value'")
	p.StringArrayVarP(&f.query, "query", "q", nil, "query parameter as key=value")
	p.StringVarP(&f.data, "data", "d", "", "request body, @file reads a file and - reads stdin")
	p.StringVar(&f.jq, "jq", "", "jq filter applied to the decoded response")
	p.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
}

// overrides returns the config keys of the flags set on the command line.
func (f *requestFlags) overrides(cmd *cobra.Command) map[string]any {
	set := map[string]any{}
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("debug") {
		set["debug"] = f.debug
	}
	if changed("group-slash") {
		set["groupslash"] = f.groupSlash
	}
	if changed("discrete-slash") {
		set["discreteslash"] = f.discreteSlash
	}
	if changed("max-tries") {
		set["retry.maxtries"] = f.maxTries
	}
	if changed("max-time") {
		set["retry.maxtime"] = f.maxTime
	}
	if changed("log-level") {
		set["log.level"] = f.logLevel
	}
	return set
}

func newVerbCmd(method string, flags *requestFlags) *cobra.Command {
	return &cobra.Command{
		Use:   strings.ToLower(method) + " <endpoint> [segment...]",
		Short: fmt.Sprintf("Send a %s request", method),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flags.overrides(cmd)
			overrides["endpoint"] = args[0]
			cfg, err := config.Load(flags.configPath, config.WithOverrides(overrides))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := cfg.Logger(cmd.ErrOrStderr())
			api, err := cfg.Client(logger)
			if err != nil {
				return err
			}
			node, err := traverse(api, args[1:])
			if err != nil {
				return err
			}
			opts, err := flags.requestOptions(cmd.InOrStdin())
			if err != nil {
				return err
			}
			result, err := node.Do(cmd.Context(), method, opts)
			if result != nil {
				if perr := printResult(cmd.Context(), cmd.OutOrStdout(), result, flags.jq); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
}

// traverse walks segments from api; "items(5)" is the collection items then its item 5.
func traverse(api *erestclient.RestApi, segments []string) (*erestclient.RestApi, error) {
	node := api
	for _, s := range segments {
		if m := itemSegment.FindStringSubmatch(s); m != nil {
			node = node.Resource(m[1])
			if m[2] != "" {
				node = node.Item(m[2])
			}
			continue
		}
		node = node.Resource(s)
	}
	return node, node.Err()
}

func (f *requestFlags) requestOptions(stdin io.Reader) (*erestclient.RequestOptions, error) {
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, err
	}
	query, err := parseQuery(f.query)
	if err != nil {
		return nil, err
	}
	opts := &erestclient.RequestOptions{Headers: headers, Query: query}
	switch {
	case f.data == "":
	case f.data == "-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		opts.Body = body
	case strings.HasPrefix(f.data, "@"):
		body, err := os.ReadFile(f.data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		opts.Body = body
	default:
		opts.Body = f.data
	}
	return opts, nil
}

func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Key: value'", v)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

func parseQuery(values []string) (url.Values, error) {
	query := url.Values{}
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q, expected key=value", v)
		}
		query.Add(key, value)
	}
	return query, nil
}

// printResult writes decoded data, or the jq results over it, as indented JSON.
// Non JSON bodies are written unchanged.
func printResult(ctx context.Context, w io.Writer, result *erestclient.Result, filter string) error {
	if result.Data == nil {
		if filter != "" && len(result.Response.Body) > 0 {
			return errors.New("--jq needs a JSON response")
		}
		_, err := w.Write(result.Response.Body)
		return err
	}
	values := []any{result.Data}
	if filter != "" {
		var err error
		if values, err = applyJQ(ctx, filter, result.Data); err != nil {
			return err
		}
	}
	for _, v := range values {
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(v); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func applyJQ(ctx context.Context, expression string, data any) ([]any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}
