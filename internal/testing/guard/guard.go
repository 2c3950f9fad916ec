package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("EXPEDIO_TEST_MODE") == "" {
			_ = os.Setenv("EXPEDIO_TEST_MODE", "1")
		}
	})
}
