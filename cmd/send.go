package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/coolsocket/client"
	"github.com/luma/coolsocket/protocol"
)

var (
	addr        string
	dialTimeout time.Duration
	waitTimeout time.Duration
	sets        []string
	chunked     bool
	replies     int
)

func init() {
	flags := SendCmd.Flags()

	flags.StringVar(&addr, "addr", "127.0.0.1:7363", "The address of the server")
	flags.DurationVar(&dialTimeout, "timeout", 5*time.Second, "How long to wait for the connection")
	flags.DurationVar(&waitTimeout, "wait", 5*time.Second, "How long to wait for each reply, 0 waits indefinitely")
	flags.StringArrayVar(&sets, "set", nil, "Set a JSON field in the message, as path=value. May be repeated")
	flags.BoolVar(&chunked, "chunked", false, "Stream the message from stdin in chunks")
	flags.IntVarP(&replies, "replies", "n", 1, "The number of replies to wait for")
}

var SendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to a server and print its replies",
	Long: `Send a message to a server and print its replies

The message is taken from the argument, or streamed from stdin with --chunked.
JSON fields can be set with --set, values that are valid JSON are inserted
as is and anything else as a string. JSON replies are pretty printed.

Usage
	coolsocket send hello
	coolsocket send --set user.name=ada --set user.admin=true
	tar c . | coolsocket send --chunked -n 0

`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var message string
		if len(args) == 1 {
			message = args[0]
		}

		if chunked && (message != "" || len(sets) > 0) {
			return errors.New("--chunked reads the message from stdin and cannot be combined with a message or --set")
		}

		if len(sets) > 0 {
			var err error
			if message, err = buildJSON(message, sets); err != nil {
				return err
			}
		}

		d := client.Dialer{
			Timeout:     dialTimeout,
			ReadTimeout: waitTimeout,
		}

		ch, err := d.Connect(context.Background(), addr)
		if err != nil {
			return err
		}
		defer ch.Close()

		if chunked {
			err = ch.SendStream(cmd.InOrStdin())
		} else {
			err = ch.SendString(message)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		for i := 0; i < replies; i++ {
			resp, err := ch.Receive()
			if err != nil {
				return fmt.Errorf("waiting for reply %d: %w", i+1, err)
			}

			if err := printResponse(out, resp); err != nil {
				return err
			}
		}

		return nil
	},
}

// buildJSON applies every path=value pair to doc, which may be empty.
func buildJSON(doc string, pairs []string) (string, error) {
	if strings.TrimSpace(doc) == "" {
		doc = "{}"
	}

	if !gjson.Valid(doc) {
		return "", fmt.Errorf("%w: the message is not a JSON document", protocol.ErrDataFormat)
	}

	for _, pair := range pairs {
		path, value, ok := strings.Cut(pair, "=")
		if !ok || path == "" {
			return "", fmt.Errorf("invalid --set %q, expected path=value", pair)
		}

		var err error
		if gjson.Valid(value) {
			doc, err = sjson.SetRaw(doc, path, value)
		} else {
			doc, err = sjson.Set(doc, path, value)
		}

		if err != nil {
			return "", fmt.Errorf("setting %s: %w", path, err)
		}
	}

	return doc, nil
}

func printResponse(out io.Writer, resp *protocol.Response) error {
	if result, err := resp.JSON(); err == nil && (result.IsObject() || result.IsArray()) {
		_, err := fmt.Fprint(out, result.Get("@pretty").Raw)
		return err
	}

	if !resp.ValidText() {
		_, err := fmt.Fprintf(out, "<%d bytes of binary data>\n", resp.Length)
		return err
	}

	_, err := fmt.Fprintln(out, resp.String())
	return err
}
