package router

import (
	"net/http"
	"strings"

	"github.com/aibazaar/backend/internal/auth"
	"github.com/aibazaar/backend/internal/handlers"
	"github.com/aibazaar/backend/internal/middleware"
)

// New returns an http.Handler serving the API under /api/v1. authMW wraps
// routes that require a signed-in account; listing reads and fee quotes stay
// public.
func New(
	authHandler *auth.Handler,
	productHandler *handlers.ProductHandler,
	convHandler *handlers.ConversationHandler,
	escrowHandler *handlers.EscrowHandler,
	accountHandler *handlers.AccountHandler,
	authMW func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))

	mux.HandleFunc(base+"/fees/quote", methodGET(escrowHandler.QuoteFees))
	mux.HandleFunc(base+"/products/recommend-decrement", methodGET(productHandler.RecommendDecrement))

	mux.HandleFunc(base+"/products", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			productHandler.ListProducts(w, r)
		case http.MethodPost:
			authMW(http.HandlerFunc(productHandler.CreateProduct)).ServeHTTP(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc(base+"/products/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/approve") && r.Method == http.MethodPost:
			authMW(middleware.RequireAdmin(http.HandlerFunc(productHandler.ApproveProduct))).ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/bids") && r.Method == http.MethodPost:
			authMW(http.HandlerFunc(productHandler.PlaceBid)).ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/bids") && r.Method == http.MethodGet:
			productHandler.ListBids(w, r)
		case r.Method == http.MethodGet:
			productHandler.GetProduct(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.Handle(base+"/conversations", authMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			convHandler.ListConversations(w, r)
		case http.MethodPost:
			convHandler.CreateConversation(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle(base+"/conversations/", authMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodGet:
			convHandler.ListMessages(w, r)
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodPost:
			convHandler.PostMessage(w, r)
		case strings.HasSuffix(r.URL.Path, "/escrow-draft") && r.Method == http.MethodGet:
			convHandler.DraftTerms(w, r)
		case strings.HasSuffix(r.URL.Path, "/escrow") && r.Method == http.MethodPost:
			escrowHandler.ProposeTerms(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle(base+"/escrow/", authMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			switch {
			case strings.HasSuffix(r.URL.Path, "/audit"):
				escrowHandler.AuditTrail(w, r)
			default:
				escrowHandler.GetTransaction(w, r)
			}
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/initialize"):
			escrowHandler.InitializeEscrow(w, r)
		case strings.HasSuffix(r.URL.Path, "/pay"):
			escrowHandler.SecurePayment(w, r)
		case strings.HasSuffix(r.URL.Path, "/delivery"):
			escrowHandler.ConfirmDelivery(w, r)
		case strings.HasSuffix(r.URL.Path, "/receipt"):
			escrowHandler.VerifyReceipt(w, r)
		case strings.HasSuffix(r.URL.Path, "/release"):
			escrowHandler.CompleteTransaction(w, r)
		case strings.HasSuffix(r.URL.Path, "/dispute"):
			escrowHandler.RaiseDispute(w, r)
		case strings.HasSuffix(r.URL.Path, "/evidence"):
			escrowHandler.SubmitEvidence(w, r)
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			escrowHandler.Cancel(w, r)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})))

	mux.Handle(base+"/account/me", authMW(methodGETHandler(accountHandler.GetMe)))
	mux.Handle(base+"/account/escrows", authMW(methodGETHandler(accountHandler.ListMyEscrows)))
	mux.Handle(base+"/account/products", authMW(methodGETHandler(accountHandler.ListMyProducts)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodGETHandler(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(methodGET(h))
}
