package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/storage/memory"
)

// ExampleServer shows webhook registration through the HTTP API.
func ExampleServer() {
	server := NewServer(Config{}, Deps{Webhooks: memory.NewWebhookRegistry()}, zap.NewNop())

	body := `{"url":"https://hooks.example.com/imports","event_type":"import.completed"}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks", strings.NewReader(body)))
	fmt.Println("create:", rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/webhooks/1", nil))
	fmt.Println("delete:", rec.Code)
	// Output:
	// create: 201
	// delete: 204
}
