package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/lessonstate/internal/session"
	"github.com/roach88/lessonstate/internal/state"
)

// ErrNotHydrated is returned by Bind before the lesson has mounted.
var ErrNotHydrated = errors.New("lesson not hydrated")

// Lesson hands out exercise bindings for one session cache.
type Lesson struct {
	cache *session.Cache
}

// NewLesson wraps cache.
func NewLesson(cache *session.Cache) *Lesson {
	return &Lesson{cache: cache}
}

// Cache returns the underlying session cache.
func (l *Lesson) Cache() *session.Cache {
	return l.cache
}

// Mount hydrates the cache and waits for the gate to open.
func (l *Lesson) Mount(ctx context.Context) error {
	if err := l.cache.Hydrate(ctx); err != nil {
		return fmt.Errorf("mount lesson %s: %w", l.cache.LessonID(), err)
	}
	if err := l.cache.Wait(ctx); err != nil {
		return fmt.Errorf("mount lesson %s: %w", l.cache.LessonID(), err)
	}
	return nil
}

// Mounted reports whether bindings can be handed out.
func (l *Lesson) Mounted() bool {
	return l.cache.Hydrated()
}

// Bind returns the binding for exerciseID. The id is normalized the same way
// the store normalizes it, so composed and decomposed forms share state.
func (l *Lesson) Bind(exerciseID string) (Binding, error) {
	if !l.cache.Hydrated() {
		return Binding{}, ErrNotHydrated
	}
	id, err := state.NormalizeKey("exercise_id", exerciseID)
	if err != nil {
		return Binding{}, fmt.Errorf("bind: %w", err)
	}
	saved, _ := l.cache.Read(id)
	return Binding{
		ExerciseID: id,
		SavedState: saved,
		save:       l.cache.Write,
	}, nil
}

// Unmount ends the session; see session.Cache.Close.
func (l *Lesson) Unmount(ctx context.Context) error {
	return l.cache.Close(ctx)
}
