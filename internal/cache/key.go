package cache

import (
	"encoding/json"
	"fmt"
)

// Key идентифицирует результат запроса: операция + канонические переменные.
type Key struct {
	Operation string
	Variables string
}

// NewKey строит ключ. encoding/json сортирует ключи map, поэтому
// одинаковые переменные всегда дают одинаковую строку.
func NewKey(operation string, vars map[string]any) Key {
	if len(vars) == 0 {
		return Key{Operation: operation}
	}
	b, err := json.Marshal(vars)
	if err != nil {
		// переменные операций только int/string, сюда не попадаем
		return Key{Operation: operation, Variables: fmt.Sprint(vars)}
	}

	return Key{Operation: operation, Variables: string(b)}
}

func (k Key) String() string {
	if k.Variables == "" {
		return k.Operation
	}
	return k.Operation + k.Variables
}
