package resolver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// InteractiveStrategy prompts a human over a terminal (§9's interactive
// variant). It is a plain io.Reader/io.Writer prompt loop rather than a full
// TUI: the CLI front end (cmd/comfydock-core) is explicitly out of spec
// scope beyond a thin demonstration, so this does not pull in the teacher's
// bubbletea-based prompt models.
type InteractiveStrategy struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

var _ Strategy = (*InteractiveStrategy)(nil)

func (s *InteractiveStrategy) reader() *bufio.Scanner {
	if s.scanner == nil {
		s.scanner = bufio.NewScanner(s.In)
	}
	return s.scanner
}

func (s *InteractiveStrategy) OnAmbiguous(ctx context.Context, ref workflowparser.RawReference, candidates []Candidate) (Decision, error) {
	fmt.Fprintf(s.Out, "Ambiguous reference %q (node %s, category %s):\n", ref.WidgetValue, ref.NodeID, ref.Category)
	for i, c := range candidates {
		fmt.Fprintf(s.Out, "  [%d] %s (%d bytes)\n", i+1, c.Hash, c.Model.Size)
	}
	fmt.Fprintf(s.Out, "  [s] skip   [o] mark optional\n")
	fmt.Fprint(s.Out, "> ")

	choice, err := s.readLine(ctx)
	if err != nil {
		return Decision{}, err
	}
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "s":
		return Decision{Kind: DecisionSkip}, nil
	case "o":
		return Decision{Kind: DecisionMarkOptional}, nil
	default:
		n, err := strconv.Atoi(strings.TrimSpace(choice))
		if err != nil || n < 1 || n > len(candidates) {
			return Decision{}, cerr.Newf(cerr.KindValidation, nil, "invalid selection %q", choice)
		}
		return Decision{Kind: DecisionSelect, SelectedHash: candidates[n-1].Hash}, nil
	}
}

func (s *InteractiveStrategy) OnUnresolved(ctx context.Context, ref workflowparser.RawReference) (Decision, error) {
	fmt.Fprintf(s.Out, "Unresolved reference %q (node %s, category %s): no indexed model matches.\n", ref.WidgetValue, ref.NodeID, ref.Category)
	fmt.Fprintf(s.Out, "  [d <url>] download   [s] skip   [o] mark optional\n")
	fmt.Fprint(s.Out, "> ")

	line, err := s.readLine(ctx)
	if err != nil {
		return Decision{}, err
	}
	line = strings.TrimSpace(line)
	switch {
	case line == "s":
		return Decision{Kind: DecisionSkip}, nil
	case line == "o":
		return Decision{Kind: DecisionMarkOptional}, nil
	case strings.HasPrefix(line, "d "):
		url := strings.TrimSpace(strings.TrimPrefix(line, "d "))
		if url == "" {
			return Decision{}, cerr.New(cerr.KindValidation, "download command requires a URL", nil)
		}
		return Decision{Kind: DecisionDownload, DownloadURL: url, DownloadTarget: ref.Category + "/" + ref.WidgetValue}, nil
	default:
		return Decision{}, cerr.Newf(cerr.KindValidation, nil, "invalid response %q", line)
	}
}

func (s *InteractiveStrategy) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sc := s.reader()
		if sc.Scan() {
			done <- result{line: sc.Text()}
			return
		}
		if err := sc.Err(); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{err: io.EOF}
	}()

	select {
	case <-ctx.Done():
		return "", cerr.New(cerr.KindCanceled, "resolution prompt canceled", ctx.Err())
	case r := <-done:
		return r.line, r.err
	}
}
