package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/database"
	"github.com/peterh/liner"
)

var shellCommands = []string{"help", "exit", "quit", "it", "save", "show collections", "import ", "export "}

var extraCommands = []string{"explain", "listIndexes", "dropIndex"}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".laura_history")
}

// shell is the interactive prompt.
func (s *session) shell(ctx context.Context) error {
	l := liner.NewLiner()
	defer l.Close()

	l.SetCtrlCAborts(true)
	l.SetCompleter(s.complete)

	if f, err := os.Open(historyFile()); err == nil {
		l.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				l.WriteHistory(f)
				f.Close()
			}
		}
	}()

	fmt.Fprintf(s.out, "laura shell, database %q\n", s.db.Name())
	fmt.Fprintln(s.out, "Type 'help' for available commands.")

	for {
		line, err := l.Prompt("laura> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		l.AppendHistory(line)

		err = s.execLine(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// complete offers shell commands and collection names, and command names
// after "<collection>.".
func (s *session) complete(line string) []string {
	var out []string
	if dot := strings.LastIndex(line, "."); dot > 0 && !strings.Contains(line, " ") {
		prefix, partial := line[:dot+1], line[dot+1:]
		names := append([]string{}, extraCommands...)
		for _, k := range database.CommandKinds() {
			names = append(names, string(k))
		}
		for _, name := range names {
			if strings.HasPrefix(name, partial) {
				out = append(out, prefix+name)
			}
		}
		sort.Strings(out)
		return out
	}

	lower := strings.ToLower(line)
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, lower) {
			out = append(out, cmd)
		}
	}
	for _, name := range s.db.ListCollections() {
		if strings.HasPrefix(name, line) {
			out = append(out, name+".")
		}
	}
	return out
}
