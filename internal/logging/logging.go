package logging

import (
	"log"
	"os"
)

func New() *log.Logger {
	return log.New(os.Stdout, "fakelag ", log.LstdFlags|log.LUTC)
}
