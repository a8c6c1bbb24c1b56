package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/storage/memory"
	"github.com/JakeFAU/grail/internal/store"
)

// ExampleActionHandler_ListActions shows how to serve the /actions endpoint.
func ExampleActionHandler_ListActions() {
	repo := memory.NewActionStore(10)
	id := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.RecordStart(context.Background(), id, "render", "https://example.com", started)
	_ = repo.Complete(context.Background(), id, started.Add(time.Second), store.ActionSuccess, nil)

	handler := NewActionHandler(repo, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListActions(rec, httptest.NewRequest(http.MethodGet, "/actions?status=success", nil))

	var body struct {
		Actions []actionDTO `json:"actions"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	fmt.Println(rec.Code, body.Actions[0].ID, body.Actions[0].Op, body.Actions[0].Status)
	// Output: 200 00000000-0000-0000-0000-0000000000aa render success
}
