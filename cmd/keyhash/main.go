// cmd/keyhash/main.go prints the SERVICE_KEY_HASH value for a control key read from stdin.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		logger.Fatalf("read key: %v", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		logger.Fatal("empty key")
	}

	hash, err := auth.HashKey(key, auth.DefaultParams)
	if err != nil {
		logger.Fatalf("hash key: %v", err)
	}
	fmt.Println(hash)
}
