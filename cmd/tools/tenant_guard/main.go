package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// tenantGuard scans the store sources and ensures every file touching a
// societe-scoped table carries a societe_id filter. Tables scoped through a
// parent row (devis_lignes via devis) and process-level tables (sessions,
// queue_dlq) are not checked.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	root := "internal/store"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	deny, err := scan(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenant_guard error: %v\n", err)
		os.Exit(2)
	}
	if len(deny) > 0 {
		for _, v := range deny {
			fmt.Fprintf(os.Stderr, "VIOLATION: %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("tenant_guard: OK")
}

var (
	reStatement = regexp.MustCompile(`(?i)\b(select|update|delete)\b`)
	reTable     = regexp.MustCompile(`(?i)\b(from|update|into|delete\s+from)\s+(clients|produits|devis|commandes|factures|referentiel_entries|themes|users|webhook_endpoints|events|audit_entries)\b`)
	reSociete   = regexp.MustCompile(`(?i)societe_id`)
)

func scan(dir string) ([]string, error) {
	var violations []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		ok, err := checkFile(path)
		if err != nil {
			return err
		}
		if !ok {
			violations = append(violations, path)
		}
		return nil
	})
	return violations, err
}

func checkFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = f.Close()
	}()
	s := bufio.NewScanner(f)
	touchesScoped := false
	foundSociete := false
	for s.Scan() {
		line := s.Text()
		if reStatement.MatchString(line) && reTable.MatchString(line) {
			touchesScoped = true
		}
		if reSociete.MatchString(line) {
			foundSociete = true
		}
	}
	if err := s.Err(); err != nil {
		return false, err
	}
	if !touchesScoped {
		return true, nil
	}
	return foundSociete, nil
}
