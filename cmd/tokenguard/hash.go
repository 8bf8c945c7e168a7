package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrEthical07/tokenguard"
	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a password hash in the configured format",
	Long: `hash-password hashes its argument, or the first line of stdin when no
argument is given, with the hasher the server would use. The output can be
stored as a principal's password hash.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		secret, err := passwordInput(cmd, args)
		if err != nil {
			return err
		}

		hasher, err := tokenguard.NewHasher(cfg.Password)
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func passwordInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", errors.New("empty password")
	}
	return line, nil
}
