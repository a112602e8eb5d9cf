package main

import (
	"flag"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/haven/cmd/tui/internal/view"
	"github.com/MrJamesThe3rd/haven/internal/config"
	"github.com/MrJamesThe3rd/haven/internal/database"
	"github.com/MrJamesThe3rd/haven/internal/escrow"
	escrowStore "github.com/MrJamesThe3rd/haven/internal/escrow/store"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	ledgerStore "github.com/MrJamesThe3rd/haven/internal/ledger/store"
	"github.com/MrJamesThe3rd/haven/internal/listing"
	listingStore "github.com/MrJamesThe3rd/haven/internal/listing/store"
	"github.com/MrJamesThe3rd/haven/internal/memstore"
	"github.com/MrJamesThe3rd/haven/internal/notify"
)

type model struct {
	registry      *listing.Registry
	walletService *ledger.Service
	escrowService *escrow.Service

	currentView View

	listingsView  view.ListingsModel
	walletView    view.WalletModel
	reconcileView view.ReconcileModel
}

type View int

const (
	ViewMenu      View = 0
	ViewListings  View = 1
	ViewWallet    View = 2
	ViewReconcile View = 3
)

func initialModel(demo bool) model {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so notifications go nowhere.
	notifier := notify.Discard{}
	logger := slog.New(slog.DiscardHandler)

	var (
		listingRepo listing.Repository
		ledgerRepo  ledger.Repository
		escrowRepo  escrow.Repository
	)

	if demo {
		mem := memstore.New()
		listingRepo, ledgerRepo, escrowRepo = mem, mem, mem
	} else {
		db, err := database.New(cfg.ConnectionString())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		listingRepo, ledgerRepo, escrowRepo = listingStore.New(db), ledgerStore.New(db), escrowStore.New(db)
	}

	registry := listing.NewRegistry(listingRepo)
	walletSvc := ledger.NewService(ledgerRepo, notifier, logger)
	escrowSvc := escrow.NewService(registry, walletSvc, escrowRepo, notifier, logger, escrow.Config{
		ApproveTimeout: cfg.Escrow.ApproveTimeout,
		RentalPeriod:   cfg.Escrow.RentalPeriod,
	})

	return model{
		registry:      registry,
		walletService: walletSvc,
		escrowService: escrowSvc,
		currentView:   ViewMenu,
		listingsView:  view.NewListingsModel(escrowSvc, registry, walletSvc),
		walletView:    view.NewWalletModel(walletSvc),
		reconcileView: view.NewReconcileModel(walletSvc),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.currentView == ViewMenu {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "1":
				m.currentView = ViewListings
				m.listingsView = view.NewListingsModel(m.escrowService, m.registry, m.walletService)

				return m, m.listingsView.Init()
			case "2":
				m.currentView = ViewWallet
				m.walletView = view.NewWalletModel(m.walletService)

				return m, m.walletView.Init()
			case "3":
				m.currentView = ViewReconcile
				m.reconcileView = view.NewReconcileModel(m.walletService)

				return m, m.reconcileView.Init()
			}
		}
	case view.BackMsg:
		m.currentView = ViewMenu
		return m, nil
	}

	switch m.currentView {
	case ViewListings:
		var newModel tea.Model
		newModel, cmd = m.listingsView.Update(msg)
		m.listingsView = newModel.(view.ListingsModel)
	case ViewWallet:
		var newModel tea.Model
		newModel, cmd = m.walletView.Update(msg)
		m.walletView = newModel.(view.WalletModel)
	case ViewReconcile:
		var newModel tea.Model
		newModel, cmd = m.reconcileView.Update(msg)
		m.reconcileView = newModel.(view.ReconcileModel)
	}

	return m, cmd
}

func (m model) View() string {
	switch m.currentView {
	case ViewMenu:
		return lipgloss.NewStyle().Padding(2).Render(
			"Haven Console\n\n" +
				"1. Listings\n" +
				"2. Wallets\n" +
				"3. Reconcile Ledger\n\n" +
				"q. Quit",
		)
	case ViewListings:
		return m.listingsView.View()
	case ViewWallet:
		return m.walletView.View()
	case ViewReconcile:
		return m.reconcileView.View()
	}

	return "Unknown View"
}

func main() {
	demo := flag.Bool("demo", false, "keep everything in memory instead of connecting to Postgres")
	flag.Parse()

	p := tea.NewProgram(initialModel(*demo))
	if _, err := p.Run(); err != nil {
		slog.Error("failed to run TUI", "error", err)
		os.Exit(1)
	}
}
