package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/mentat-ai/mentat/pkg/builtin"
	"github.com/mentat-ai/mentat/pkg/retrieval"
)

// defaultSession is used by one-shot commands when --session is not given.
const defaultSession = "cli"

type askResult struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

func sessionOrDefault(global globalFlags, fallback string) string {
	if s := strings.TrimSpace(global.Session); s != "" {
		return s
	}
	return fallback
}

func runAsk(ctx context.Context, a *app, global globalFlags, args []string, out io.Writer) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return NewInvalidArgumentError("question", "ask needs a question")
	}
	sessionID := sessionOrDefault(global, defaultSession)
	answer, err := a.sessions.Chat(ctx, sessionID, question, a.skillContext(sessionID))
	if err != nil && answer == "" {
		return err
	}
	if global.JSON {
		if perr := printJSON(out, askResult{SessionID: sessionID, Answer: answer}); perr != nil {
			return perr
		}
	} else {
		fmt.Fprintln(out, answer)
	}
	// The answer was produced but the transcript could not be saved.
	return err
}

// runChat reads one user message per line until EOF or /exit. /history
// prints the stored transcript and /reset deletes the session.
func runChat(ctx context.Context, a *app, global globalFlags, in io.Reader, out io.Writer) error {
	sessionID := sessionOrDefault(global, uuid.NewString())
	fmt.Fprintf(out, "session %s (type /exit to quit)\n", sessionID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/history":
			msgs, err := a.sessions.History(ctx, sessionID)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
			continue
		case "/reset":
			if err := a.sessions.Delete(ctx, a.cfg.Account.ID, sessionID); err != nil {
				fmt.Fprintf(out, "reset failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session cleared")
			continue
		}

		answer, err := a.sessions.Chat(ctx, sessionID, line, a.skillContext(sessionID))
		if err != nil && answer == "" {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// runIngest stores a local file under the upload directory and indexes its
// text, so both knowledge_base_query and read_full_document can find it.
func runIngest(ctx context.Context, a *app, global globalFlags, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	title := fs.String("title", "", "Document title (default: file name)")
	scope := fs.String("scope", string(retrieval.ScopeGlobal), "global or session")
	path, rest := splitPositional(args)
	if err := fs.Parse(rest); err != nil {
		return NewInvalidArgumentError("ingest", err.Error())
	}
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		return NewInvalidArgumentError("file", "ingest needs a file path")
	}

	sessionID := ""
	switch retrieval.Scope(*scope) {
	case retrieval.ScopeGlobal:
	case retrieval.ScopeSession:
		sessionID = strings.TrimSpace(global.Session)
		if sessionID == "" {
			return NewInvalidArgumentError("scope", "session scope needs --session")
		}
	default:
		return NewInvalidArgumentError("scope", fmt.Sprintf("unknown scope %q", *scope))
	}

	name := filepath.Base(path)
	if *title == "" {
		*title = name
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	accountID := a.cfg.Account.ID
	saved, err := builtin.SaveDocument(a.cfg.Skills.UploadDir, accountID, sessionID, name, content)
	if err != nil {
		return err
	}
	docID, err := indexSaved(ctx, a, saved, accountID, *title, retrieval.Scope(*scope), sessionID)
	if err != nil {
		// A file nobody can query must not be left for read_full_document.
		if rerr := os.Remove(saved); rerr != nil && !os.IsNotExist(rerr) {
			a.logger.Warn("cli.ingest.cleanup_failed", slog.String("path", saved), slog.String("error", rerr.Error()))
		}
		return err
	}

	if global.JSON {
		return printJSON(out, map[string]string{
			"doc_id":     docID,
			"title":      *title,
			"scope":      *scope,
			"session_id": sessionID,
			"path":       saved,
		})
	}
	fmt.Fprintf(out, "ingested %q as %s (%s)\n", *title, docID, *scope)
	return nil
}

func indexSaved(ctx context.Context, a *app, saved, accountID, title string, scope retrieval.Scope, sessionID string) (string, error) {
	text, err := builtin.PlainTextParser{}.Parse(saved)
	if err != nil {
		return "", err
	}
	return a.pipeline.Ingest(ctx, accountID, text, title, scope, sessionID)
}

// runForget deletes a global document by title, or the whole session when
// only --session is given.
func runForget(ctx context.Context, a *app, global globalFlags, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("forget", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	title := fs.String("title", "", "Global document title to delete")
	if err := fs.Parse(args); err != nil {
		return NewInvalidArgumentError("forget", err.Error())
	}
	accountID := a.cfg.Account.ID
	switch {
	case *title != "":
		if err := a.pipeline.DeleteGlobal(ctx, accountID, *title); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted global document %q\n", *title)
	case strings.TrimSpace(global.Session) != "":
		if err := a.sessions.Delete(ctx, accountID, global.Session); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted session %s\n", global.Session)
	default:
		return NewInvalidArgumentError("forget", "forget needs --title or --session")
	}
	return nil
}

type skillRow struct {
	Name        string `json:"name"`
	Capability  string `json:"capability"`
	Allowed     bool   `json:"allowed"`
	Description string `json:"description"`
}

func runSkills(a *app, global globalFlags, out io.Writer) error {
	perms := a.cfg.Account.Permissions
	rows := make([]skillRow, 0)
	for _, name := range a.registry.Names() {
		d, _ := a.registry.Lookup(name)
		rows = append(rows, skillRow{
			Name:        d.Name,
			Capability:  string(d.Capability),
			Allowed:     perms.Allows(d.Capability),
			Description: d.Description,
		})
	}
	if global.JSON {
		return printJSON(out, rows)
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SKILL\tCAPABILITY\tALLOWED\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.Name, r.Capability, r.Allowed, r.Description)
	}
	return w.Flush()
}

// splitPositional lets the file come before the flags, as in
// "ingest notes.md --title Notes".
func splitPositional(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}
