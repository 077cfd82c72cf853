package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/legalcheck/legalcheck-client/internal/api"
	"github.com/legalcheck/legalcheck-client/internal/auth"
	"github.com/legalcheck/legalcheck-client/internal/chat"
	"github.com/legalcheck/legalcheck-client/internal/config"
	"github.com/legalcheck/legalcheck-client/internal/tui"
	"github.com/legalcheck/legalcheck-client/pkg/models"
)

// =============================================================================
// Chat Command Handlers
// =============================================================================

func runChat(cmd *cobra.Command, flags *globalFlags, rawID string) error {
	documentID, err := parseDocumentID(rawID)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, flags, appOptions{logToFile: true})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	ctx := cmd.Context()
	store := a.chatStore()
	model := tui.New(tui.Options{
		DocumentID: documentID,
		Store:      store,
		Documents:  a.client,
		Logger:     a.logger,
		Context:    ctx,
	})
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, runErr := program.Run()
	if err := store.DisconnectWebSocket(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("closing chat channel", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("chat: %w", runErr)
	}
	return nil
}

func runHistory(cmd *cobra.Command, flags *globalFlags, rawID string, asJSON bool) error {
	documentID, err := parseDocumentID(rawID)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	conversation, err := a.chatStore().FetchMessages(cmd.Context(), documentID)
	out := cmd.OutOrStdout()
	if errors.Is(err, api.ErrNotFound) {
		fmt.Fprintln(out, chat.MsgNoConversation)
		return nil
	}
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(conversation)
	}
	printConversation(out, conversation)
	return nil
}

func runSend(cmd *cobra.Command, flags *globalFlags, rawID, content string, live bool, wait time.Duration) error {
	documentID, err := parseDocumentID(rawID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return chat.ErrEmptyContent
	}
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	ctx := cmd.Context()
	store := a.chatStore()
	if live {
		err = store.InitializeChat(ctx, documentID)
	} else {
		_, err = store.FetchMessages(ctx, documentID)
	}
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}

	before := store.Snapshot()
	waiter := newReplyWaiter(store, messageCount(before))
	defer waiter.stop()

	if err := store.SendMessage(ctx, documentID, content); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !live || before.Phase() != chat.PhaseLive {
		if live {
			fmt.Fprintln(out, "Live channel unavailable; message sent as a request.")
		}
		if message, ok := lastMessage(store.Snapshot(), models.AuthorUser); ok {
			printMessage(out, message)
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	reply, err := waiter.wait(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for reply: %w", err)
	}
	printMessage(out, reply)
	return nil
}

func runRename(cmd *cobra.Command, flags *globalFlags, rawID, title string) error {
	documentID, err := parseDocumentID(rawID)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is required")
	}
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	store := a.chatStore()
	conversation, err := store.FetchMessages(cmd.Context(), documentID)
	if errors.Is(err, api.ErrNotFound) {
		return errors.New(chat.MsgNoConversation)
	}
	if err != nil {
		return err
	}
	if err := store.UpdateConversation(cmd.Context(), title); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d renamed to %q\n", conversation.ID, title)
	return nil
}

func runDocuments(cmd *cobra.Command, flags *globalFlags) error {
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	documents, err := a.client.ListDocuments(cmd.Context())
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(documents) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tPROCESSED\tUPLOADED")
	for _, doc := range documents {
		uploaded := "-"
		if !doc.CreatedAt.IsZero() {
			uploaded = doc.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", doc.ID, doc.Filename, doc.IsProcessed, uploaded)
	}
	return w.Flush()
}

// =============================================================================
// Setup Command Handlers
// =============================================================================

func runInit(cmd *cobra.Command, flags *globalFlags, force bool) error {
	path, _ := config.ResolvePath(flags.configPath)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	cfg := config.Default()
	applyFlagOverrides(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, flags *globalFlags) error {
	cfg, path, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	shown := *cfg
	if shown.Auth.Token != "" {
		shown.Auth.Token = "[redacted]"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", path)
	_, err = out.Write(data)
	return err
}

func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runLogin(cmd *cobra.Command, flags *globalFlags, email string) error {
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	if strings.TrimSpace(email) == "" {
		if email, err = p.line("Email: "); err != nil {
			return err
		}
	}
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	password, err := p.secret("Password: ")
	if err != nil {
		return err
	}

	token, err := a.client.Login(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := a.tokenStore.Save(token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (token saved to %s)\n", describeSubject(token, email), a.tokenStore.Path())
	return nil
}

func runLogout(cmd *cobra.Command, flags *globalFlags) error {
	a, err := newApp(cmd, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if err := a.client.Logout(cmd.Context()); err != nil {
		a.logger.Warn("server logout failed, removing local token anyway", "error", err)
	}
	if err := a.tokenStore.Delete(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func runTokenSet(cmd *cobra.Command, flags *globalFlags, token string) error {
	store, err := openTokenStore(cmd, flags)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		if token, err = p.secret("Token: "); err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if err := auth.CheckExpiry(token, time.Now()); err != nil {
		return err
	}
	if err := store.Save(token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", store.Path())
	return nil
}

func runTokenClear(cmd *cobra.Command, flags *globalFlags) error {
	store, err := openTokenStore(cmd, flags)
	if err != nil {
		return err
	}
	if err := store.Delete(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
	return nil
}

func runTokenStatus(cmd *cobra.Command, flags *globalFlags) error {
	cfg, _, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	store := auth.NewFileStore(config.ExpandUserPath(cfg.Auth.TokenFile), config.Dir())
	chain := auth.Chain{
		auth.StaticToken(cfg.Auth.Token),
		auth.StaticToken(os.Getenv(envToken)),
		store,
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Token file: %s\n", store.Path())
	token, err := chain.Token(cmd.Context())
	switch {
	case errors.Is(err, auth.ErrNoToken):
		fmt.Fprintln(out, "Session:    none (run legalcheck login)")
	case errors.Is(err, auth.ErrTokenExpired):
		fmt.Fprintln(out, "Session:    expired (run legalcheck login)")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "Session:    active for %s\n", describeSubject(token, "unknown user"))
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func parseDocumentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return id, nil
}

func openTokenStore(cmd *cobra.Command, flags *globalFlags) (*auth.FileStore, error) {
	cfg, _, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	return auth.NewFileStore(config.ExpandUserPath(cfg.Auth.TokenFile), config.Dir()), nil
}

func describeSubject(token, fallback string) string {
	if subject := auth.Subject(token); subject != "" {
		return subject
	}
	return fallback
}

func authorLabel(author models.Author) string {
	if author == models.AuthorUser {
		return "You"
	}
	return string(author)
}

func printMessage(w io.Writer, message models.Message) {
	stamp := "pending"
	if !message.CreatedAt.IsZero() {
		stamp = message.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", stamp, authorLabel(message.Author), message.Content)
}

func printConversation(w io.Writer, conversation *models.Conversation) {
	fmt.Fprintf(w, "%s (conversation %d)\n", conversation.DisplayTitle(), conversation.ID)
	if len(conversation.Messages) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, message := range conversation.Messages {
		printMessage(w, message)
	}
}

func messageCount(state chat.State) int {
	if state.Conversation == nil {
		return 0
	}
	return len(state.Conversation.Messages)
}

func lastMessage(state chat.State, author models.Author) (models.Message, bool) {
	if state.Conversation == nil {
		return models.Message{}, false
	}
	messages := state.Conversation.Messages
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Author == author {
			return messages[i], true
		}
	}
	return models.Message{}, false
}

// replyWaiter watches the store for the first assistant message added after
// a baseline count.
type replyWaiter struct {
	store    *chat.Store
	baseline int
	changed  chan struct{}
	cancel   func()
}

func newReplyWaiter(store *chat.Store, baseline int) *replyWaiter {
	w := &replyWaiter{store: store, baseline: baseline, changed: make(chan struct{}, 1)}
	w.cancel = store.Subscribe(func(chat.State) {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	})
	return w
}

func (w *replyWaiter) wait(ctx context.Context) (models.Message, error) {
	for {
		state := w.store.Snapshot()
		if state.Conversation != nil {
			messages := state.Conversation.Messages
			for i := min(w.baseline, len(messages)); i < len(messages); i++ {
				if messages[i].Author == models.AuthorAssistant {
					return messages[i], nil
				}
			}
		}
		if state.Error != "" {
			return models.Message{}, errors.New(state.Error)
		}
		select {
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		case <-w.changed:
		}
	}
}

func (w *replyWaiter) stop() {
	w.cancel()
}
