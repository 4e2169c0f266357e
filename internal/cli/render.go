package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/socketclient"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	current lipgloss.Style
	row     lipgloss.Style
	dead    lipgloss.Style
	empty   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		current: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		row:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		dead:    lipgloss.NewStyle().Faint(true),
		empty:   lipgloss.NewStyle().Faint(true),
	}
}

func renderSessions(list socketclient.SessionList, now time.Time, s styles) string {
	lines := []string{
		s.title.Render("Sessions"),
		s.header.Render(fmt.Sprintf("%d of %d slots in use", len(list.Sessions), list.Capacity)),
	}

	if len(list.Sessions) == 0 {
		lines = append(lines, s.empty.Render("No sessions. Start one with `mobilecli session new`."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, s.header.Render(sessionRow(" ", "#", "ID", "TITLE", "PID", "AGE", "CWD")))
	for i, info := range list.Sessions {
		marker := " "
		style := s.row
		switch {
		case !info.Alive:
			marker = "x"
			style = s.dead
		case info.Current:
			marker = "*"
			style = s.current
		}
		lines = append(lines, style.Render(sessionRow(
			marker,
			fmt.Sprint(i),
			info.ID,
			info.Title,
			fmt.Sprint(info.Pid),
			age(now.Sub(info.CreatedAt)),
			info.Cwd,
		)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionRow(marker, index, id, title, pid, age, cwd string) string {
	return fmt.Sprintf("%s %-3s %-10s %-16s %-7s %-6s %s", marker, index, id, title, pid, age, cwd)
}

func age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
