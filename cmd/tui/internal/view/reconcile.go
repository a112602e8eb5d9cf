package view

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
)

type ReconcileModel struct {
	CommonModel
	wallets *ledger.Service

	table      table.Model
	mismatches []ledger.Mismatch
	loading    bool
	err        error
}

func NewReconcileModel(wallets *ledger.Service) ReconcileModel {
	columns := []table.Column{
		{Title: "Owner", Width: 20},
		{Title: "Cached", Width: 16},
		{Title: "Ledger", Width: 16},
		{Title: "Drift", Width: 16},
	}

	return ReconcileModel{
		wallets: wallets,
		table:   newTable(columns, 12),
		loading: true,
	}
}

func (m ReconcileModel) Title() string { return "Reconciliation" }

func (m ReconcileModel) ShortHelp() string { return "Esc: back | r: run again" }

func (m ReconcileModel) Init() tea.Cmd {
	return m.runCmd()
}

func (m ReconcileModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case reconcileMsg:
		m.loading = false
		m.err = msg.err
		m.mismatches = msg.mismatches

		rows := make([]table.Row, 0, len(msg.mismatches))
		for _, mm := range msg.mismatches {
			rows = append(rows, table.Row{
				mm.OwnerID,
				FormatAmount(mm.Cached),
				FormatAmount(mm.Ledger),
				FormatAmount(mm.Cached - mm.Ledger),
			})
		}

		m.table.SetRows(rows)

		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, Back
		case "r":
			m.loading = true
			return m, m.runCmd()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m ReconcileModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Reconciling wallets...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if len(m.mismatches) == 0 {
		return lipgloss.NewStyle().Padding(2).Render(activeStyle("Every wallet balance matches its ledger."))
	}

	header := fmt.Sprintf("%s wallets drifted from their ledger", activeStyle(fmt.Sprint(len(m.mismatches))))

	return lipgloss.NewStyle().Padding(1).Render(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		boxed(m.table.View()),
	))
}

type reconcileMsg struct {
	mismatches []ledger.Mismatch
	err        error
}

func (m ReconcileModel) runCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		mismatches, err := m.wallets.Reconcile(ctx)

		return reconcileMsg{mismatches: mismatches, err: err}
	}
}
