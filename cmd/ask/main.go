// Command ask sends a single prompt, optionally with an image, through the
// same chat service the web server uses and prints the answer.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatwithai-backend/internal/attachment"
	"chatwithai-backend/internal/config"
	"chatwithai-backend/internal/gemini"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/internal/render"
	"chatwithai-backend/internal/service"
	"chatwithai-backend/internal/storage"
	"chatwithai-backend/pkg/logger"
)

var (
	configFlag string
	imageFlag  string
	rawFlag    bool
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff6b6b"))
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask Gemini a single question",
		Long: `ask sends one prompt to the Gemini generateContent endpoint and prints
the answer rendered for the terminal.

Examples:
  ask "What is Go?"
  ask -i diagram.png "Explain this diagram"
  echo "Summarize this" | ask --raw`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(prompt) == "" {
				return cmd.Help()
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), prompt)
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "./configs/config.yaml", "Path to config file")
	cmd.Flags().StringVarP(&imageFlag, "image", "i", "", "Path to image file to include")
	cmd.Flags().BoolVar(&rawFlag, "raw", false, "Print the Markdown reply without rendering")
	return cmd
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// readPrompt takes the positional argument, falling back to piped stdin.
func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func runAsk(ctx context.Context, out io.Writer, prompt string) error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	draft := model.Draft{Text: prompt}
	if imageFlag != "" {
		raw, err := os.ReadFile(imageFlag)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if draft.Image, err = attachment.NewLoader(cfg.Upload.MaxImageBytes).FromBytes(raw); err != nil {
			return fmt.Errorf("invalid image %s: %w", imageFlag, err)
		}
	}

	client := gemini.NewClient(cfg.Gemini)
	if !client.HasAPIKey() {
		logger.Warn("Gemini API key is not configured")
	}

	// The terminal renderer turns the reply into ANSI output below, so the
	// service does not need to produce HTML.
	chatService := service.NewChatService(cfg, storage.NewMemoryStorage(), client, nil)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = chatService.Close(closeCtx)
	}()

	session, err := chatService.CreateSession("")
	if err != nil {
		return err
	}
	handle, err := chatService.Submit(session.ID, &draft)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Gemini.Timeout+5*time.Second)
	defer cancel()
	msg, err := chatService.AwaitResolution(waitCtx, *handle)
	if err != nil {
		return fmt.Errorf("no answer: %w", err)
	}

	if msg.Failed {
		return fmt.Errorf("%s", strings.TrimPrefix(msg.BotReply, model.ErrorReplyPrefix))
	}
	return printReply(out, msg.BotReply)
}

func printReply(out io.Writer, reply string) error {
	if rawFlag {
		_, err := fmt.Fprintln(out, reply)
		return err
	}

	opts := render.DefaultOptions()
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			opts = opts.WithWidth(width)
		}
	}

	renderer, err := render.NewTerminalRenderer(opts)
	if err != nil {
		return err
	}
	rendered, err := renderer.Render(reply)
	if err != nil {
		// Fall back to the raw Markdown
		rendered = reply + "\n"
	}

	_, err = fmt.Fprint(out, labelStyle.Render("Gemini")+"\n"+rendered)
	return err
}
