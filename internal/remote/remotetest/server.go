// Package remotetest provides an in-memory asset service for tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Item is an item stored by the fake service.
type Item struct {
	ID         string   `json:"id"`
	Path       string   `json:"-"`
	Name       string   `json:"name"`
	Ext        string   `json:"ext"`
	URL        string   `json:"url"`
	Tags       []string `json:"tags"`
	Annotation string   `json:"annotation"`
	FolderID   string   `json:"-"`
}

// Folder is a folder stored by the fake service.
type Folder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Children    []*Folder `json:"children"`
}

// Server is a fake asset service backed by an httptest server.
type Server struct {
	*httptest.Server

	Token string

	mu       sync.Mutex
	folders  []*Folder
	items    map[string]*Item
	order    []string
	nextID   int
	calls    map[string]int
	failures map[string]int
	updates  []map[string]any
}

// NewServer starts a fake service accepting token.
func NewServer(token string) *Server {
	s := &Server{
		Token:    token,
		items:    make(map[string]*Item),
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
	r := chi.NewRouter()
	r.Get("/api/folder/list", s.handleFolderList)
	r.Post("/api/folder/create", s.handleFolderCreate)
	r.Post("/api/folder/update", s.handleFolderUpdate)
	r.Post("/api/item/addFromPath", s.handleItemAdd)
	r.Get("/api/item/info", s.handleItemInfo)
	r.Post("/api/item/update", s.handleItemUpdate)
	s.Server = httptest.NewServer(r)
	return s
}

// FailNext makes the next n calls to endpoint, such as "/api/item/update",
// answer 500.
func (s *Server) FailNext(endpoint string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = n
}

// Calls returns how often endpoint was hit.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Items returns the stored items in creation order.
func (s *Server) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		item := *s.items[id]
		item.Tags = append([]string(nil), item.Tags...)
		out = append(out, item)
	}
	return out
}

// Item returns one stored item.
func (s *Server) Item(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	cp := *item
	cp.Tags = append([]string(nil), item.Tags...)
	return cp, true
}

// PutItem stores an item directly, as if a curator had created it.
func (s *Server) PutItem(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	cp := item
	s.items[item.ID] = &cp
}

// Updates returns the payloads received by item/update.
func (s *Server) Updates() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.updates...)
}

// FolderNames returns the folder tree as slash-joined paths.
func (s *Server) FolderNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	var walk func(prefix string, folders []*Folder)
	walk = func(prefix string, folders []*Folder) {
		for _, f := range folders {
			out = append(out, prefix+f.Name)
			walk(prefix+f.Name+"/", f.Children)
		}
	}
	walk("", s.folders)
	return out
}

// Folder looks a folder up by name.
func (s *Server) Folder(name string) (Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := findFolder(s.folders, func(f *Folder) bool { return f.Name == name }); f != nil {
		return *f, true
	}
	return Folder{}, false
}

func (s *Server) begin(w http.ResponseWriter, endpoint, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	if s.failures[endpoint] > 0 {
		s.failures[endpoint]--
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "data": "injected failure"})
		return false
	}
	if token != s.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "data": "bad token"})
		return false
	}
	return true
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%04d", prefix, s.nextID)
}

func (s *Server) handleFolderList(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, "/api/folder/list", r.URL.Query().Get("token")) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	folders := s.folders
	if folders == nil {
		folders = []*Folder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": folders})
}

func (s *Server) handleFolderCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token      string `json:"token"`
		FolderName string `json:"folderName"`
		Parent     string `json:"parent"`
	}
	if !decode(w, r, &req) || !s.begin(w, "/api/folder/create", req.Token) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	folder := &Folder{ID: s.newID("F"), Name: req.FolderName, Children: []*Folder{}}
	if req.Parent == "" {
		s.folders = append(s.folders, folder)
	} else {
		parent := findFolder(s.folders, func(f *Folder) bool { return f.ID == req.Parent })
		if parent == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "data": "no such parent"})
			return
		}
		parent.Children = append(parent.Children, folder)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": folder})
}

func (s *Server) handleFolderUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token          string `json:"token"`
		FolderID       string `json:"folderId"`
		NewDescription string `json:"newDescription"`
	}
	if !decode(w, r, &req) || !s.begin(w, "/api/folder/update", req.Token) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	folder := findFolder(s.folders, func(f *Folder) bool { return f.ID == req.FolderID })
	if folder == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "data": "no such folder"})
		return
	}
	folder.Description = req.NewDescription
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": folder})
}

func (s *Server) handleItemAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token      string   `json:"token"`
		Path       string   `json:"path"`
		Name       string   `json:"name"`
		Website    string   `json:"website"`
		Tags       []string `json:"tags"`
		Annotation string   `json:"annotation"`
		FolderID   string   `json:"folderId"`
	}
	if !decode(w, r, &req) || !s.begin(w, "/api/item/addFromPath", req.Token) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ext := req.Name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name, ext = name[:i], name[i+1:]
	}
	id := s.newID("I")
	s.items[id] = &Item{
		ID:         id,
		Path:       req.Path,
		Name:       name,
		Ext:        ext,
		URL:        req.Website,
		Tags:       req.Tags,
		Annotation: req.Annotation,
		FolderID:   req.FolderID,
	}
	s.order = append(s.order, id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": id})
}

func (s *Server) handleItemInfo(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, "/api/item/info", r.URL.Query().Get("token")) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[r.URL.Query().Get("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "data": "no such item"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": item})
}

func (s *Server) handleItemUpdate(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	token, _ := req["token"].(string)
	if !s.begin(w, "/api/item/update", token) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := req["id"].(string)
	item, ok := s.items[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "data": "no such item"})
		return
	}
	delete(req, "token")
	s.updates = append(s.updates, req)
	if v, ok := req["name"].(string); ok {
		item.Name = v
	}
	if v, ok := req["url"].(string); ok {
		item.URL = v
	}
	if v, ok := req["annotation"].(string); ok {
		item.Annotation = v
	}
	if v, ok := req["tags"].([]any); ok {
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		item.Tags = tags
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": item})
}

func findFolder(folders []*Folder, match func(*Folder) bool) *Folder {
	for _, f := range folders {
		if match(f) {
			return f
		}
		if found := findFolder(f.Children, match); found != nil {
			return found
		}
	}
	return nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "data": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
