package main

import (
	"fmt"
	"os"

	"github.com/kwgt/luwiki-sub000/pkg/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedManifest is the shape of a seed.yaml file: a flat list of users to
// ensure exist and pages to create if absent. Unlike cmd/warren's apply,
// which dispatches on a Kind discriminator across several resource types,
// a wiki seed only ever needs these two, so there is no Kind field.
type seedManifest struct {
	Users []seedUser `yaml:"users"`
	Pages []seedPage `yaml:"pages"`
}

type seedUser struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"displayName"`
}

type seedPage struct {
	Path   string `yaml:"path"`
	Author string `yaml:"author"`
	Source string `yaml:"source"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a YAML seed manifest of users and pages",
	Long: `Apply reads a YAML manifest describing users and pages and creates
whatever is missing. Users and pages that already exist are left
untouched, so the same manifest can be re-applied safely.

Example:

  users:
    - username: admin
      password: change-me
      displayName: Administrator
  pages:
    - path: /guides/style
      author: admin
      source: |
        # Style guide
        ...`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest seedManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	m, err := openManager(cmd)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer m.Close()

	for _, u := range manifest.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("user entry missing username or password")
		}
		if _, err := m.GetUserByUsername(u.Username); err == nil {
			log.WithUserID(u.Username).Warn().Msg("user already exists, skipping")
			fmt.Printf("User already exists: %s (skipping)\n", u.Username)
			continue
		}
		if _, err := m.AddUser(u.Username, u.Password, u.DisplayName); err != nil {
			return fmt.Errorf("create user %q: %w", u.Username, err)
		}
		log.WithUserID(u.Username).Info().Msg("user created from manifest")
		fmt.Printf("✓ User created: %s\n", u.Username)
	}

	for _, p := range manifest.Pages {
		if p.Path == "" || p.Author == "" {
			return fmt.Errorf("page entry missing path or author")
		}
		if _, err := m.GetPageIDByPath(p.Path); err == nil {
			log.WithPageID(p.Path).Warn().Msg("page already exists, skipping")
			fmt.Printf("Page already exists: %s (skipping)\n", p.Path)
			continue
		}
		if _, err := m.CreatePage(p.Path, p.Author, p.Source); err != nil {
			return fmt.Errorf("create page %q: %w", p.Path, err)
		}
		log.WithPageID(p.Path).Info().Msg("page created from manifest")
		fmt.Printf("✓ Page created: %s\n", p.Path)
	}

	return nil
}
