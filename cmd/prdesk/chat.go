package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/prdesk/internal/config"
	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/inference"
	"github.com/ashureev/prdesk/internal/orchestrator"
	"github.com/ashureev/prdesk/internal/store"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a consultation session in the terminal",
	Long: `Run one consultation session in the terminal against the configured
inference provider.

Commands:
  /generate <type> [requirements]   Generate an artifact
  /artifacts                        List generated artifacts
  /context                          Show the gathered context
  /quit                             Exit`,
	RunE: runChat,
}

var chatProfile string

func init() {
	chatCmd.Flags().StringVar(&chatProfile, "profile", "", "Seed the session from a stored organization profile")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	seed, err := loadSeed(ctx, cfg, chatProfile)
	if err != nil {
		return err
	}

	client, err := inference.New(inferenceConfig(cfg), slog.Default())
	if err != nil {
		return fmt.Errorf("initialize inference client: %w", err)
	}
	defer func() { _ = client.Close() }()

	svc := orchestrator.NewService(client, orchestrator.WithProviderTimeout(cfg.Inference.Timeout))
	sess := orchestrator.NewManager().Create("", seed)

	return chatLoop(ctx, svc, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

func loadSeed(ctx context.Context, cfg *config.Config, profileID string) (domain.Context, error) {
	if profileID == "" {
		return domain.Context{}, nil
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return domain.Context{}, fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = repo.Close() }()

	p, err := repo.GetProfile(ctx, domain.SharedOwner, profileID)
	if err != nil {
		return domain.Context{}, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return domain.Context{}, fmt.Errorf("profile %q not found", profileID)
	}
	return p.Seed(), nil
}

func chatLoop(ctx context.Context, svc *orchestrator.Service, sess *orchestrator.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Tell me about the product you want to build. Type /quit to exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, svc, sess, line, out)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := svc.SubmitUtterance(ctx, sess, line)
		if reply != nil {
			fmt.Fprintln(out, reply.Text)
			if reply.ReadyToGenerate && len(reply.ArtifactTypes) > 0 {
				fmt.Fprintf(out, "[ready: /generate %s]\n", strings.Join(reply.ArtifactTypes, " | "))
			}
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func chatCommand(ctx context.Context, svc *orchestrator.Service, sess *orchestrator.Session, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/context":
		return false, printJSON(out, sess.Snapshot().ContextMap)
	case "/artifacts":
		artifacts := svc.ListArtifacts(sess)
		if len(artifacts) == 0 {
			fmt.Fprintln(out, "No artifacts yet.")
			return false, nil
		}
		for _, a := range artifacts {
			fmt.Fprintf(out, "%d. [%s] %s\n", a.Seq, a.Type, a.Title)
		}
		return false, nil
	case "/generate":
		if len(fields) < 2 {
			return false, errors.New("usage: /generate <type> [requirements]")
		}
		requirements := strings.Join(fields[2:], " ")
		a, err := svc.RequestGeneration(ctx, sess, fields[1], requirements)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Generated %s: %s\n", a.Type, a.Title)
		if a.Description != "" {
			fmt.Fprintln(out, a.Description)
		}
		return false, printJSON(out, a.GeneratedContent)
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
