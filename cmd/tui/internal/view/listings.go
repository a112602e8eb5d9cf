package view

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

type listingsState int

const (
	listingsStateBrowse listingsState = iota
	listingsStateAction
	listingsStateCreate
)

const (
	actionReserve  = "reserve"
	actionApprove  = "approve"
	actionCancel   = "cancel"
	actionWithdraw = "withdraw"
	actionRelist   = "relist"
)

var statusFilters = []*listing.Status{
	nil,
	new(listing.StatusAvailable),
	new(listing.StatusReserved),
	new(listing.StatusTransferred),
	new(listing.StatusWithdrawn),
}

type ListingsModel struct {
	CommonModel
	escrow   *escrow.Service
	registry *listing.Registry
	wallets  *ledger.Service

	state    listingsState
	table    table.Model
	listings []*listing.Listing
	form     *huh.Form

	statusFilterIdx int

	entries     []*ledger.Entry
	showEntries bool

	loading bool
	err     error
	status  string

	// Form bindings live behind a pointer so every copy of the model sees the
	// values huh writes.
	fields *listingFields
}

type listingFields struct {
	action string
	party  string
	owner  string
	agent  string
	price  string
	kind   listing.Kind
}

func NewListingsModel(escrowSvc *escrow.Service, registry *listing.Registry, wallets *ledger.Service) ListingsModel {
	columns := []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Kind", Width: 9},
		{Title: "Status", Width: 12},
		{Title: "Price", Width: 14},
		{Title: "Owner", Width: 14},
		{Title: "Reserved By", Width: 14},
		{Title: "Occupant", Width: 14},
		{Title: "Rental Ends", Width: 17},
	}

	return ListingsModel{
		escrow:   escrowSvc,
		registry: registry,
		wallets:  wallets,
		table:    newTable(columns, 15),
		loading:  true,
		fields:   &listingFields{},
	}
}

func (m ListingsModel) Title() string { return "Listings" }

func (m ListingsModel) ShortHelp() string {
	if m.state != listingsStateBrowse {
		return "Navigate form | Esc: cancel"
	}

	return "Esc: back | a: action | n: new | l: ledger | s: status filter | r: refresh"
}

func (m ListingsModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m ListingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadListingsMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.listings = msg.listings
		m.refreshTable()

		return m, nil

	case listingEntriesMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Error loading ledger: %v", msg.err)
			return m, nil
		}

		m.entries = msg.entries
		m.showEntries = true

		return m, nil

	case listingActionMsg:
		m.status = msg.text
		m.state = listingsStateBrowse
		m.form = nil
		m.table.Focus()

		return m, m.loadCmd()

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 10)
		return m, nil
	}

	switch m.state {
	case listingsStateBrowse:
		return m.updateBrowse(msg)
	case listingsStateAction, listingsStateCreate:
		return m.updateForm(msg)
	}

	return m, nil
}

func (m ListingsModel) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			if m.showEntries {
				m.showEntries = false
				return m, nil
			}

			return m, Back
		case "r":
			m.loading = true
			return m, m.loadCmd()
		case "s":
			m.statusFilterIdx = (m.statusFilterIdx + 1) % len(statusFilters)
			return m, m.loadCmd()
		case "l":
			if l := m.selected(); l != nil {
				return m, m.loadEntriesCmd(l)
			}

			return m, nil
		case "a":
			return m.enterActionMode()
		case "n":
			return m.enterCreateMode()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m ListingsModel) selected() *listing.Listing {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.listings) {
		return nil
	}

	return m.listings[idx]
}

func (m ListingsModel) enterActionMode() (tea.Model, tea.Cmd) {
	if m.selected() == nil {
		return m, nil
	}

	m.fields.action = actionReserve
	m.fields.party = ""

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Action").
				Options(
					huh.NewOption("Reserve (buyer)", actionReserve),
					huh.NewOption("Approve (owner or agent)", actionApprove),
					huh.NewOption("Cancel reservation", actionCancel),
					huh.NewOption("Withdraw (owner)", actionWithdraw),
					huh.NewOption("Relist (owner)", actionRelist),
				).
				Value(&m.fields.action),

			huh.NewInput().
				Title("Acting party").
				Value(&m.fields.party).
				Validate(required("party")),
		),
	).WithWidth(45).WithShowHelp(false)

	m.state = listingsStateAction
	m.showEntries = false
	m.table.Blur()

	return m, m.form.Init()
}

func (m ListingsModel) enterCreateMode() (tea.Model, tea.Cmd) {
	m.fields.owner = ""
	m.fields.agent = ""
	m.fields.price = ""
	m.fields.kind = listing.KindForSale

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Owner").
				Value(&m.fields.owner).
				Validate(required("owner")),

			huh.NewInput().
				Title("Agent (optional)").
				Value(&m.fields.agent),

			huh.NewInput().
				Title("Price").
				Placeholder("200000").
				Value(&m.fields.price).
				Validate(func(s string) error {
					_, err := parsePrice(s)
					return err
				}),

			huh.NewSelect[listing.Kind]().
				Title("Kind").
				Options(
					huh.NewOption("For sale", listing.KindForSale),
					huh.NewOption("For rent", listing.KindForRent),
				).
				Value(&m.fields.kind),
		),
	).WithWidth(45).WithShowHelp(false)

	m.state = listingsStateCreate
	m.showEntries = false
	m.table.Blur()

	return m, m.form.Init()
}

func (m ListingsModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		m.state = listingsStateBrowse
		m.form = nil
		m.table.Focus()

		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	if m.state == listingsStateCreate {
		return m, m.createCmd()
	}

	return m, m.actionCmd()
}

func (m ListingsModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Loading listings...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
	}

	filter := "All"
	if s := statusFilters[m.statusFilterIdx]; s != nil {
		filter = string(*s)
	}

	header := fmt.Sprintf("Filter: [s] Status: %s", activeStyle(filter))

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		boxed(m.table.View()),
	)

	switch {
	case m.state == listingsStateAction && m.form != nil:
		l := m.selected()
		title := "Listing action"

		if l != nil {
			title = fmt.Sprintf("Listing %s (%s, %s)", ShortID(l.ID.String()), l.Status, FormatAmount(l.Price))
		}

		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel(title, m.form.View()))
	case m.state == listingsStateCreate && m.form != nil:
		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel("New listing", m.form.View()))
	case m.showEntries:
		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel("Ledger entries", m.entriesView()))
	}

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

func (m ListingsModel) entriesView() string {
	if len(m.entries) == 0 {
		return "No entries."
	}

	var b strings.Builder

	for _, e := range m.entries {
		fmt.Fprintf(&b, "%s  %-16s %-10s %14s\n",
			e.CreatedAt.Local().Format("01-02 15:04"), e.Kind, ShortID(e.OwnerID), FormatAmount(e.Amount))
	}

	return b.String()
}

func (m *ListingsModel) refreshTable() {
	rows := make([]table.Row, 0, len(m.listings))

	for _, l := range m.listings {
		rows = append(rows, table.Row{
			ShortID(l.ID.String()),
			string(l.Kind),
			string(l.Status),
			FormatAmount(l.Price),
			l.OwnerID,
			deref(l.ReservedBy),
			deref(l.OccupantID),
			FormatTime(l.RentalExpiry),
		})
	}

	m.table.SetRows(rows)
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}

		return nil
	}
}

func parsePrice(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
	if err != nil {
		return 0, errors.New("enter a whole number")
	}

	if v <= 0 {
		return 0, errors.New("must be positive")
	}

	return v, nil
}

// Messages

type loadListingsMsg struct {
	listings []*listing.Listing
	err      error
}

func (m ListingsModel) loadCmd() tea.Cmd {
	status := statusFilters[m.statusFilterIdx]

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		ls, err := m.registry.List(ctx, status)

		return loadListingsMsg{listings: ls, err: err}
	}
}

type listingEntriesMsg struct {
	entries []*ledger.Entry
	err     error
}

func (m ListingsModel) loadEntriesCmd(l *listing.Listing) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		entries, err := m.wallets.ListingEntries(ctx, l.ID)

		return listingEntriesMsg{entries: entries, err: err}
	}
}

type listingActionMsg struct {
	text string
}

func (m ListingsModel) actionCmd() tea.Cmd {
	l := m.selected()
	if l == nil {
		return nil
	}

	action, party, id := m.fields.action, strings.TrimSpace(m.fields.party), l.ID

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		var err error

		switch action {
		case actionReserve:
			var res *escrow.InitiateResult
			if res, err = m.escrow.Initiate(ctx, id, party); err == nil && res.InsufficientFundsHint {
				return listingActionMsg{text: "Reserved. Buyer balance is currently below the price."}
			}
		case actionApprove:
			var res *escrow.ApproveResult
			if res, err = m.escrow.Approve(ctx, id, party); err == nil {
				return listingActionMsg{text: fmt.Sprintf("Transferred. Buyer balance %s, seller balance %s.",
					FormatAmount(res.BuyerBalance), FormatAmount(res.SellerBalance))}
			}
		case actionCancel:
			_, err = m.escrow.CancelReservation(ctx, id, party)
		case actionWithdraw:
			_, err = m.escrow.Withdraw(ctx, id, party)
		case actionRelist:
			_, err = m.escrow.Relist(ctx, id, party)
		}

		if err != nil {
			return listingActionMsg{text: fmt.Sprintf("%s failed (%s): %v", action, escrow.KindOf(err), err)}
		}

		return listingActionMsg{text: action + " succeeded"}
	}
}

func (m ListingsModel) createCmd() tea.Cmd {
	params := escrow.CreateParams{
		OwnerID: strings.TrimSpace(m.fields.owner),
		Kind:    m.fields.kind,
	}

	if agent := strings.TrimSpace(m.fields.agent); agent != "" {
		params.AgentID = new(agent)
	}

	price, _ := parsePrice(m.fields.price)
	params.Price = price

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		l, err := m.escrow.CreateListing(ctx, params)
		if err != nil {
			return listingActionMsg{text: fmt.Sprintf("create failed: %v", err)}
		}

		return listingActionMsg{text: "created listing " + l.ID.String()}
	}
}
