package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/database"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/impex"
	"github.com/mnohosten/laura-engine/pkg/logger"
	"go.uber.org/zap"
)

var errQuit = errors.New("quit")

// session executes shell lines and script steps against one database and
// keeps the cursor "it" pages through.
type session struct {
	db       *database.Database
	out      io.Writer
	cursors  *database.CursorManager
	current  string
	pageSize int
	pretty   bool
}

func newSession(db *database.Database, out io.Writer, pageSize int, pretty bool) *session {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &session{
		db:       db,
		out:      out,
		cursors:  database.NewCursorManager(0),
		pageSize: pageSize,
		pretty:   pretty,
	}
}

// execLine runs one line of input:
//
//	<collection>.<command> [json]   e.g. users.find {"age": {"$gt": 21}}
//	show collections | it | save | help | exit
//	import <collection> <file> | export <collection> <file> [filter]
func (s *session) execLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "//") {
		return nil
	}
	head, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(head) {
	case "exit", "quit":
		return errQuit
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
		return nil
	case "it":
		return s.more()
	case "save":
		if err := s.db.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "saved")
		return nil
	case "show":
		if rest != "collections" && rest != "dbs" {
			return fmt.Errorf("usage: show collections")
		}
		for _, name := range s.db.ListCollections() {
			fmt.Fprintln(s.out, name)
		}
		return nil
	case "import":
		return s.importFile(ctx, rest)
	case "export":
		return s.exportFile(rest)
	}

	dot := strings.LastIndex(head, ".")
	if dot <= 0 || dot == len(head)-1 {
		return fmt.Errorf("unknown command %q (type 'help' for usage)", head)
	}
	coll, cmd := head[:dot], head[dot+1:]

	var spec *document.Document
	if rest != "" {
		var err error
		if spec, err = impex.ParseDocument([]byte(rest)); err != nil {
			return err
		}
	}
	return s.run(ctx, coll, cmd, spec)
}

// run executes a named command. Besides the engine's commands the shell
// knows explain, listIndexes and dropIndex.
func (s *session) run(ctx context.Context, coll, cmd string, spec *document.Document) error {
	logger.FromContext(ctx).Debug("shell command", zap.String("collection", coll), zap.String("command", cmd))

	switch cmd {
	case "explain":
		c := s.db.Collection(coll)
		plan, err := c.Explain(spec)
		if err != nil {
			return err
		}
		s.print(document.DocValue(plan))
		return nil
	case "listIndexes":
		for _, ix := range s.db.Collection(coll).ListIndexes() {
			s.print(document.DocValue(ix.Document()))
		}
		return nil
	case "dropIndex":
		var name string
		if spec != nil {
			v, _ := spec.Get("name")
			name, _ = v.AsString()
		}
		if name == "" {
			return fmt.Errorf("usage: %s.dropIndex {\"name\": \"<index>\"}", coll)
		}
		if err := s.db.Collection(coll).DropIndex(name); err != nil {
			return err
		}
		s.print(document.DocValue(document.D("acknowledged", true, "dropped", name)))
		return nil
	}

	kind, err := database.ParseCommandKind(cmd)
	if err != nil {
		return err
	}
	res, err := s.db.Execute(ctx, coll, kind, spec)
	if err != nil {
		return err
	}
	switch res.Kind {
	case database.ResultCursor:
		return s.page(res.Cursor)
	case database.ResultCount:
		fmt.Fprintln(s.out, res.Count)
	default:
		s.print(document.DocValue(res.Ack.Document(kind)))
	}
	return nil
}

// page prints up to pageSize documents and keeps the rest for "it".
func (s *session) page(cur *database.Cursor) error {
	if s.current != "" && s.current != cur.ID() {
		s.cursors.Close(s.current)
		s.current = ""
	}
	for i := 0; i < s.pageSize && cur.HasNext(); i++ {
		doc, err := cur.Next()
		if err != nil {
			return err
		}
		s.print(document.DocValue(doc))
	}
	if !cur.HasNext() {
		if s.current != "" {
			s.cursors.Close(s.current)
			s.current = ""
		} else {
			cur.Close()
		}
		return nil
	}
	if s.current == "" {
		id, err := s.cursors.Register(cur)
		if err != nil {
			return err
		}
		s.current = id
	}
	fmt.Fprintf(s.out, "Type \"it\" for more (%d remaining)\n", cur.Remaining())
	return nil
}

func (s *session) more() error {
	if s.current == "" {
		return fmt.Errorf("no cursor")
	}
	cur, err := s.cursors.Get(s.current)
	if err != nil {
		s.current = ""
		return err
	}
	return s.page(cur)
}

// close releases the open cursor, if any.
func (s *session) close() {
	if s.current != "" {
		s.cursors.Close(s.current)
		s.current = ""
	}
}

func (s *session) print(v document.Value) {
	if s.pretty {
		s.out.Write(impex.MarshalIndent(v, "  "))
	} else {
		s.out.Write(impex.Marshal(v))
	}
	fmt.Fprintln(s.out)
}

func (s *session) importFile(ctx context.Context, args string) error {
	coll, path, ok := strings.Cut(args, " ")
	path = strings.TrimSpace(path)
	if !ok || coll == "" || path == "" {
		return fmt.Errorf("usage: import <collection> <file>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	docs, err := impex.Import(f, impex.FormatFor(path), impex.Options{})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	values := make([]document.Value, len(docs))
	for i, doc := range docs {
		values[i] = document.DocValue(doc)
	}
	return s.run(ctx, coll, string(database.CommandInsertMany), document.D("documents", document.Array(values...)))
}

func (s *session) exportFile(args string) error {
	fields := strings.SplitN(args, " ", 3)
	if len(fields) < 2 {
		return fmt.Errorf("usage: export <collection> <file> [filter]")
	}
	coll, path := fields[0], fields[1]
	var filter *document.Document
	if len(fields) == 3 {
		var err error
		if filter, err = impex.ParseDocument([]byte(fields[2])); err != nil {
			return err
		}
	}

	cur, err := s.db.Collection(coll).Find(filter, nil)
	if err != nil {
		return err
	}
	docs, err := cur.All()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := impex.Export(f, docs, impex.FormatFor(path), impex.Options{Pretty: s.pretty}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "exported %d documents to %s\n", len(docs), path)
	return nil
}

const shellHelp = `Commands:
  <collection>.<command> [json]    run a command, e.g.
      users.insertOne {"document": {"name": "Ann", "age": 31}}
      users.find {"filter": {"age": {"$gt": 21}}, "sort": {"age": -1}}
      users.aggregate {"pipeline": [{"$group": {"_id": null, "n": {"$sum": 1}}}]}
    commands: insertOne insertMany find updateOne updateMany deleteOne
              deleteMany aggregate createIndex drop distinct count
              explain listIndexes dropIndex
  it                               next page of the last result
  show collections                 list collections
  import <collection> <file>       load .json, .jsonl or .csv
  export <collection> <file> [filter]
  save                             write a snapshot (needs --data-dir)
  help, exit
`
