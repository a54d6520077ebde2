package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Nyukimin/picoagent/pkg/approval"
)

func newRunCmd() *cobra.Command {
	var (
		providerName   string
		model          string
		conversationID string
		noStream       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := buildRuntime()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			rt.actions.StartSweeper(ctx, time.Minute)

			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			reader := bufio.NewReader(os.Stdin)
			rt.executor.OnApprovalRequest(approvalPrompter(rt.broker, reader))

			fmt.Printf("picoagent %s - conversation %s (ctrl-d to quit)\n", version, conversationID)
			for {
				fmt.Print("> ")
				line, err := reader.ReadString('\n')
				if err != nil {
					fmt.Println()
					return nil
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if text == "/quit" || text == "/exit" {
					return nil
				}

				if noStream {
					response, err := rt.orch.Respond(ctx, conversationID, text, providerName, model)
					if err != nil {
						fmt.Fprintln(os.Stderr, "error:", err)
						continue
					}
					fmt.Println(response)
					continue
				}

				_, err = rt.orch.RespondStreaming(ctx, conversationID, text, providerName, model, func(delta string) {
					fmt.Print(delta)
				})
				fmt.Println()
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider to use (default from config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use (default from config)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to resume")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "disable streaming output")
	return cmd
}

// approvalPrompter asks the user on stdin whether a gated tool call may
// run. It answers from a goroutine because the request fires before the
// executor starts waiting; Respond is retried briefly to bridge that gap.
func approvalPrompter(broker *approval.Broker, reader *bufio.Reader) func(req approval.Request) {
	return func(req approval.Request) {
		go func() {
			fmt.Printf("\nTool %q requests approval: %v\nApprove? [y]es / [n]o / [a]lways: ", req.Tool, req.Params)
			line, err := reader.ReadString('\n')
			resp := approval.Response{}
			if err == nil {
				switch strings.ToLower(strings.TrimSpace(line)) {
				case "y", "yes":
					resp.Approved = true
				case "a", "always":
					resp.Approved = true
					resp.Remember = true
				}
			}
			for i := 0; i < 20; i++ {
				if broker.Respond(req.ID, resp) {
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()
	}
}
