package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/scottbass3/regscan/internal/pager"
)

func listenLogs(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(msg)
	}
}

func loadPageCmd(p *pager.Pager[string], focus Focus, image string, n int, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		items, done, err := takeItems(ctx, p, n)
		return pageMsg{focus: focus, image: image, pager: p, items: items, done: done, err: err}
	}
}

// takeItems pulls up to n items. done reports that the sequence ended.
func takeItems(ctx context.Context, p *pager.Pager[string], n int) ([]string, bool, error) {
	items := make([]string, 0, n)
	for len(items) < n {
		item, err := p.Next(ctx)
		if errors.Is(err, pager.Done) {
			return items, true, nil
		}
		if err != nil {
			return items, false, err
		}
		items = append(items, item)
	}
	return items, false, nil
}

func loadManifestCmd(client Browser, image, tag string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		manifest, err := client.GetImageManifest(ctx, image, tag)
		return manifestMsg{image: image, tag: tag, manifest: manifest, err: err}
	}
}
