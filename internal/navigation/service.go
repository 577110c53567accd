package navigation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/listing"
	"github.com/pitabwire/storefront/model"
)

// Catalog is the read side of the taxonomy the service navigates.
type Catalog interface {
	FindCategory(id string) (model.Category, bool)
	Products() []model.Product
	ImageFor(label string) string
}

// Service runs navigation sessions: it loads a session, applies one pure
// transition, persists the result and renders the view.
type Service struct {
	catalog Catalog
	store   SessionStore
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewService creates a navigation service. A zero ttl keeps sessions until
// they are ended explicitly.
func NewService(catalog Catalog, store SessionStore, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog: catalog,
		store:   store,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Start opens a navigation session on a category.
func (s *Service) Start(ctx context.Context, categoryID string, sort model.SortKey) (model.NavigationView, error) {
	cat, ok := s.catalog.FindCategory(categoryID)
	if !ok {
		return model.NavigationView{}, categoryNotFound(categoryID)
	}

	now := s.now().UTC()
	sess := Session{
		ID:        s.newID(),
		State:     New(cat),
		Sort:      normalizeSort(sort),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: s.expiry(now),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return model.NavigationView{}, err
	}

	s.logger.Debug("navigation session started",
		zap.String("session_id", sess.ID),
		zap.String("category_id", cat.ID),
	)
	return s.render(cat, sess), nil
}

// View renders the current state of a session.
func (s *Service) View(ctx context.Context, sessionID string) (model.NavigationView, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return model.NavigationView{}, err
	}
	cat, ok := s.catalog.FindCategory(sess.State.CategoryID)
	if !ok {
		return model.NavigationView{}, categoryNotFound(sess.State.CategoryID)
	}
	return s.render(cat, sess), nil
}

// Preview renders a session with another sort key without storing it.
func (s *Service) Preview(ctx context.Context, sessionID string, sort model.SortKey) (model.NavigationView, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return model.NavigationView{}, err
	}
	cat, ok := s.catalog.FindCategory(sess.State.CategoryID)
	if !ok {
		return model.NavigationView{}, categoryNotFound(sess.State.CategoryID)
	}
	sess.Sort = normalizeSort(sort)
	return s.render(cat, sess), nil
}

// Select picks item at the current level. At the main level item must be a
// subcategory; at a subcategory level it must be one of the level's items or
// empty, which clears the sub-subcategory pick. expectVersion of zero skips
// the client-side version check.
func (s *Service) Select(ctx context.Context, sessionID, item string, expectVersion int) (model.NavigationView, error) {
	return s.mutate(ctx, sessionID, expectVersion, "select", func(cat model.Category, sess *Session) error {
		switch sess.State.Level.Kind {
		case LevelMain:
			if !cat.HasSubcategory(item) {
				return unknownItem(item, cat.Name)
			}
		case LevelSubcategory:
			if item != "" && !slices.Contains(sess.State.Level.Items, item) {
				return unknownItem(item, sess.State.Level.Title)
			}
		default:
			return fmt.Errorf("navigation: session %q is at level %s", sess.ID, sess.State.Level.Kind)
		}
		sess.State = sess.State.Select(cat, item)
		return nil
	})
}

// Back returns to the previous level.
func (s *Service) Back(ctx context.Context, sessionID string, expectVersion int) (model.NavigationView, error) {
	return s.mutate(ctx, sessionID, expectVersion, "back", func(_ model.Category, sess *Session) error {
		sess.State = sess.State.NavigateBack()
		return nil
	})
}

// Clear resets the session to the category's main level.
func (s *Service) Clear(ctx context.Context, sessionID string, expectVersion int) (model.NavigationView, error) {
	return s.mutate(ctx, sessionID, expectVersion, "clear", func(cat model.Category, sess *Session) error {
		sess.State = sess.State.ClearSelection(cat)
		return nil
	})
}

// SetSort changes the sort key of the product list.
func (s *Service) SetSort(ctx context.Context, sessionID string, sort model.SortKey, expectVersion int) (model.NavigationView, error) {
	return s.mutate(ctx, sessionID, expectVersion, "sort", func(_ model.Category, sess *Session) error {
		sess.Sort = normalizeSort(sort)
		return nil
	})
}

// End discards a session.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Debug("navigation session ended", zap.String("session_id", sessionID))
	return nil
}

func (s *Service) mutate(
	ctx context.Context,
	sessionID string,
	expectVersion int,
	action string,
	apply func(cat model.Category, sess *Session) error,
) (model.NavigationView, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return model.NavigationView{}, err
	}
	if expectVersion != 0 && expectVersion != sess.Version {
		return model.NavigationView{}, versionConflict(sessionID, expectVersion, sess.Version)
	}

	cat, ok := s.catalog.FindCategory(sess.State.CategoryID)
	if !ok {
		return model.NavigationView{}, categoryNotFound(sess.State.CategoryID)
	}
	if err := apply(cat, &sess); err != nil {
		return model.NavigationView{}, err
	}

	sess.ExpiresAt = s.expiry(s.now().UTC())
	updated, err := s.store.Update(ctx, sess)
	if err != nil {
		return model.NavigationView{}, err
	}

	s.logger.Debug("navigation transition",
		zap.String("session_id", sessionID),
		zap.String("action", action),
		zap.Stringer("level", updated.State.Level.Kind),
		zap.Int("version", updated.Version),
	)
	return s.render(cat, updated), nil
}

func (s *Service) expiry(now time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(s.ttl)
}

// render builds the client view of a session.
func (s *Service) render(cat model.Category, sess Session) model.NavigationView {
	st := sess.State

	items := make([]model.ItemDescriptor, 0, len(st.Level.Items))
	for _, it := range st.Items(cat) {
		items = append(items, model.ItemDescriptor{
			Label:       it.Label,
			Image:       s.catalog.ImageFor(it.Label),
			HasChildren: it.HasChildren,
			Selected:    it.Selected,
		})
	}

	products := listing.Apply(s.catalog.Products(), listing.Selection{
		Category:       cat.Name,
		Subcategory:    st.SelectedSubcategory,
		SubSubcategory: st.SelectedSubSubcategory,
	}, sess.Sort)

	return model.NavigationView{
		SessionID: sess.ID,
		Version:   sess.Version,
		Category:  model.CategoryRef{ID: cat.ID, Name: cat.Name, Icon: cat.Icon},
		Level: model.LevelDescriptor{
			Kind:   st.Level.Kind.String(),
			Parent: st.Level.Parent,
			Title:  st.Level.Title,
		},
		Breadcrumb:             st.Breadcrumb(cat),
		Items:                  items,
		SelectedSubcategory:    st.SelectedSubcategory,
		SelectedSubSubcategory: st.SelectedSubSubcategory,
		Sort:                   sess.Sort,
		CanGoBack:              st.CanGoBack(),
		Products:               products,
		TotalCount:             len(products),
	}
}

// normalizeSort maps relevance, which only applies to search, to featured.
func normalizeSort(k model.SortKey) model.SortKey {
	k = model.ParseSortKey(string(k))
	if k == model.SortRelevance {
		return model.SortFeatured
	}
	return k
}

func categoryNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("category %q not found", id))
}

func unknownItem(item, level string) error {
	return model.NewBadRequestError(fmt.Sprintf("%q is not selectable in %q", item, level))
}
