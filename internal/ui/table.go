package ui

import (
	"strconv"
	"strings"

	"github.com/BioHazard786/studyroom/internal/api"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RoomsTable renders the room listing.
func RoomsTable(rooms []api.Room) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No study rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format("2006-01-02")
		}
		rows = append(rows, []string{
			strconv.Itoa(r.ID),
			truncate(r.Name, 30),
			truncate(r.Subject, 20),
			truncate(r.Description, 40),
			created,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("ID", "Name", "Subject", "Description", "Created").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
