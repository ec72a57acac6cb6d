package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

func TestCreateImage(t *testing.T) {
	user := testUser()

	t.Run("Success", func(t *testing.T) {
		b := &mockBuilder{
			buildRef:    "localhost:7900/alice/hellozeworld",
			buildOutput: []string{"Step 1/2 : FROM busybox", "Successfully built abc123"},
		}
		h := newTestHandlers(nil, nil, b)

		body, _ := json.Marshal(api.CreateImageRequest{
			Name:       "hellozeworld",
			Dockerfile: "FROM busybox\nCMD echo hello\n",
		})
		req := httptest.NewRequest(http.MethodPost, "/image", strings.NewReader(string(body)))
		req = authedRequest(req, user)

		rec := doRequest(h.CreateImage, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("got status %d: %s", rec.Code, rec.Body)
		}

		var resp api.BuildResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Ref != b.buildRef {
			t.Errorf("got ref %q", resp.Ref)
		}
		if len(resp.Output) != 2 {
			t.Errorf("build output missing: %v", resp.Output)
		}
		if b.capturedSpec.Login != "alice" {
			t.Errorf("build not namespaced by login: %q", b.capturedSpec.Login)
		}
	})

	t.Run("Build Failure", func(t *testing.T) {
		b := &mockBuilder{buildErr: errors.New("pull access denied")}
		h := newTestHandlers(nil, nil, b)

		body, _ := json.Marshal(api.CreateImageRequest{Name: "x", Dockerfile: "FROM nope"})
		req := httptest.NewRequest(http.MethodPost, "/image", strings.NewReader(string(body)))
		req = authedRequest(req, user)

		rec := doRequest(h.CreateImage, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, want 400", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "pull access denied") {
			t.Errorf("build error not surfaced: %s", rec.Body)
		}
	})

	t.Run("Missing Name", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/image", strings.NewReader(`{"dockerfile":"FROM busybox"}`))
		req = authedRequest(req, user)

		rec := doRequest(h.CreateImage, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, want 400", rec.Code)
		}
	})
}

func TestDeleteImage_StillReferenced(t *testing.T) {
	user := testUser()
	s := &mockStore{
		imageResp:      &store.Image{ID: uuid.New(), OwnerID: user.ID, Ref: "localhost:7900/alice/trainer"},
		deleteImageErr: store.ErrImageInUse,
	}
	h := newTestHandlers(s, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/image/x", nil)
	req.SetPathValue("id", s.imageResp.ID.String())
	req = authedRequest(req, user)

	rec := doRequest(h.DeleteImage, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusConflict, rec.Body)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "image is used by existing jobs" {
		t.Errorf("error message = %q", resp.Error)
	}
}
