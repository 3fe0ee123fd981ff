package cache

import (
	"errors"
	"sync"
)

var ErrNotCached = errors.New("cache: no result for key")

// UpdateFunc получает предыдущий снапшот и возвращает новый.
// При ошибке снапшот остаётся прежним.
type UpdateFunc func(prev any) (any, error)

// Store — кэш результатов запросов. Снапшоты считаются неизменяемыми:
// Store их не копирует и не модифицирует, только заменяет целиком.
// Все записи сериализованы одним mutex, это и есть "цикл обновлений".
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry
	nextID  uint64
}

type entry struct {
	value    any
	set      bool
	version  uint64
	watchers map[uint64]chan any
}

func New() *Store {
	return &Store{entries: make(map[Key]*entry)}
}

func (s *Store) entryLocked(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{watchers: make(map[uint64]chan any)}
		s.entries[key] = e
	}
	return e
}

// Write заменяет снапшот и уведомляет подписчиков.
func (s *Store) Write(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaceLocked(s.entryLocked(key), value)
}

func (s *Store) replaceLocked(e *entry, value any) {
	e.value = value
	e.set = true
	e.version++
	for _, ch := range e.watchers {
		// coalescing: подписчику нужен только последний снапшот
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

func (s *Store) Read(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.set {
		return nil, false
	}
	return e.value, true
}

// Version растёт на каждую запись, 0 означает, что записи ещё не было.
func (s *Store) Version(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e.version
	}
	return 0
}

// Update применяет fn к текущему снапшоту под блокировкой.
func (s *Store) Update(key Key, fn UpdateFunc) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.set {
		return nil, ErrNotCached
	}

	next, err := fn(e.value)
	if err != nil {
		return e.value, err
	}
	s.replaceLocked(e, next)

	return next, nil
}

// Watch возвращает канал новых снапшотов. Если снапшот уже есть,
// он сразу лежит в канале. cancel закрывает канал.
func (s *Store) Watch(key Key) (<-chan any, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	s.nextID++
	id := s.nextID
	ch := make(chan any, 1)
	if e.set {
		ch <- e.value
	}
	e.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if cur, ok := s.entries[key]; ok && cur == e {
				if w, ok := e.watchers[id]; ok {
					delete(e.watchers, id)
					close(w)
				}
				if !e.set && len(e.watchers) == 0 {
					delete(s.entries, key)
				}
			}
		})
	}

	return ch, cancel
}

// Evict выбрасывает снапшот и закрывает каналы подписчиков.
func (s *Store) Evict(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	for id, ch := range e.watchers {
		delete(e.watchers, id)
		close(ch)
	}
	delete(s.entries, key)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.set {
			n++
		}
	}
	return n
}

// Get делает типизированное чтение.
func Get[T any](s *Store, key Key) (T, bool) {
	var zero T
	v, ok := s.Read(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
