package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/spf13/cobra"
)

var requestMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

type requestFlags struct {
	params      []string
	headers     []string
	data        string
	contentType string
	include     bool
}

func newRequestCommand(opts *rootOptions, method string) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " PATH",
		Short: fmt.Sprintf("Send a %s request to PATH below the base URL", method),
		Example: fmt.Sprintf(`  apiclient %s /v1/orders --base-url https://api.example.com --token "$TOKEN"`,
			strings.ToLower(method)),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, flags, method, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&flags.params, "param", "p", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, `request header as "Key: Value" (repeatable)`)
	if method != http.MethodGet && method != http.MethodHead {
		cmd.Flags().StringVarP(&flags.data, "data", "d", "", "request body, or @file to read it from a file")
		cmd.Flags().StringVar(&flags.contentType, "content-type", "application/json", "content type of the request body")
	}
	cmd.Flags().BoolVarP(&flags.include, "include", "i", false, "print the status and response headers before the body")

	return cmd
}

func runRequest(cmd *cobra.Command, opts *rootOptions, flags *requestFlags, method, path string) error {
	reqOpts, err := flags.requestOptions()
	if err != nil {
		return err
	}

	s, err := opts.newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	resp, err := s.client.Do(cmd.Context(), method, path, reqOpts...)
	if respErr, ok := httpclient.AsResponseError(err); ok {
		resp = respErr.Response
	} else if err != nil {
		return err
	}

	if flags.include {
		if werr := writeResponseHead(cmd.OutOrStdout(), resp); werr != nil {
			return werr
		}
	}
	if werr := writeBody(cmd.OutOrStdout(), resp.Body); werr != nil {
		return werr
	}
	return err
}

func (f *requestFlags) requestOptions() ([]httpclient.RequestOption, error) {
	var opts []httpclient.RequestOption

	if len(f.params) > 0 {
		params := make(map[string]string, len(f.params))
		for _, p := range f.params {
			key, value, ok := strings.Cut(p, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid --param %q: expected key=value", p)
			}
			params[key] = value
		}
		opts = append(opts, httpclient.WithParams(params))
	}

	for _, h := range f.headers {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf(`invalid --header %q: expected "Key: Value"`, h)
		}
		opts = append(opts, httpclient.WithHeader(key, strings.TrimSpace(value)))
	}

	if f.data != "" {
		body := []byte(f.data)
		if name, ok := strings.CutPrefix(f.data, "@"); ok {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("read request body: %w", err)
			}
			body = data
		}
		opts = append(opts, httpclient.WithBody(f.contentType, body))
	}

	return opts, nil
}
