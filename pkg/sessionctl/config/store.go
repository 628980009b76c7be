package config

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/telekom/sessionctl/pkg/sessionctl/session"
)

// SelectionStore keeps the session selection of one named context in the
// config file.
type SelectionStore struct {
	mu      sync.Mutex
	path    string
	context string
}

var _ session.SelectionStore = (*SelectionStore)(nil)

func NewSelectionStore(path, contextName string) *SelectionStore {
	return &SelectionStore{path: path, context: contextName}
}

func (s *SelectionStore) LoadSelection() (session.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := Load(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return session.Selection{}, nil
	}
	if err != nil {
		return session.Selection{}, err
	}
	ctx, err := cfg.FindContext(s.context)
	if err != nil || ctx.Selection == nil {
		return session.Selection{}, nil
	}
	return ctx.Selection.toSession(), nil
}

// SaveSelection writes sel into the context, creating the config file and
// the context when missing. An empty selection removes the entry.
func (s *SelectionStore) SaveSelection(sel session.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := LoadOrDefault(s.path)
	if err != nil {
		return err
	}
	ctx, err := cfg.FindContext(s.context)
	if err != nil {
		if sel.IsZero() {
			return nil
		}
		cfg.Contexts = append(cfg.Contexts, Context{Name: s.context})
		ctx = &cfg.Contexts[len(cfg.Contexts)-1]
	}
	if sel.IsZero() {
		ctx.Selection = nil
	} else {
		ctx.Selection = fromSession(sel)
	}
	return Save(s.path, cfg)
}

func (s Selection) toSession() session.Selection {
	return session.Selection{
		Subject:       s.Subject,
		OrgID:         s.OrgID,
		OrgName:       s.OrgName,
		ProjectID:     s.ProjectID,
		ProjectName:   s.ProjectName,
		WorkspaceID:   s.WorkspaceID,
		WorkspaceName: s.WorkspaceName,
	}
}

func fromSession(s session.Selection) *Selection {
	return &Selection{
		Subject:       s.Subject,
		OrgID:         s.OrgID,
		OrgName:       s.OrgName,
		ProjectID:     s.ProjectID,
		ProjectName:   s.ProjectName,
		WorkspaceID:   s.WorkspaceID,
		WorkspaceName: s.WorkspaceName,
	}
}
