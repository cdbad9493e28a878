package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/codebuddy-ai/codebuddy-memory/internal/stub"
)

var (
	storeDir      string
	storeJSON     bool
	storeMaxBytes int64
	storeMaxAge   time.Duration
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the on-disk tool-result store",
	Long: `Manage the tool results persisted under .codebuddy/tool-results/.

The compression pipeline writes large tool results there so that stubbed
turns stay restorable across sessions.`,
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tool results",
	RunE:  runStoreList,
}

var storeRestoreCmd = &cobra.Command{
	Use:   "restore <identifier>",
	Short: "Print the stored content for an identifier",
	Long: `Print the stored content for an identifier such as toolu_01AB23CD or
internal/server/router.go:10-42. File identifiers are read from the
working tree when they are not in the store.`,
	Args: cobra.ExactArgs(1),
	RunE: runStoreRestore,
}

var storeEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Evict oldest results until the store fits --max-bytes",
	RunE:  runStoreEvict,
}

var storeGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove results older than --max-age",
	RunE:  runStoreGC,
}

func init() {
	storeCmd.PersistentFlags().StringVar(&storeDir, "directory", "", "Working directory")
	storeListCmd.Flags().BoolVar(&storeJSON, "json", false, "Output as JSON")
	storeEvictCmd.Flags().Int64Var(&storeMaxBytes, "max-bytes", 5*1024*1024, "Store size to evict down to")
	storeGCCmd.Flags().DurationVar(&storeMaxAge, "max-age", 7*24*time.Hour, "Age past which results are removed")

	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeRestoreCmd)
	storeCmd.AddCommand(storeEvictCmd)
	storeCmd.AddCommand(storeGCCmd)
}

// storeEntry describes one persisted tool result.
type storeEntry struct {
	Identifier string    `json:"identifier"`
	Bytes      int64     `json:"bytes"`
	Modified   time.Time `json:"modified"`
}

// readStoreEntries returns the persisted results oldest first. A missing
// store directory is an empty store.
func readStoreEntries(dir string) ([]storeEntry, int64, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	var entries []storeEntry
	var total int64
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".txt") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, storeEntry{
			Identifier: strings.TrimSuffix(de.Name(), ".txt"),
			Bytes:      info.Size(),
			Modified:   info.ModTime(),
		})
		total += info.Size()
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified.Before(entries[j].Modified)
	})
	return entries, total, nil
}

func runStoreList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(storeDir)
	if err != nil {
		return err
	}

	entries, total, err := readStoreEntries(stub.SidecarDir(workDir))
	if err != nil {
		return err
	}

	if storeJSON {
		if entries == nil {
			entries = []storeEntry{}
		}
		return printJSON(map[string]any{
			"entries":    entries,
			"count":      len(entries),
			"totalBytes": total,
		})
	}

	if len(entries) == 0 {
		fmt.Println("store is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-44s %10s  %s\n", e.Identifier, humanize.Bytes(uint64(e.Bytes)), humanize.Time(e.Modified))
	}
	fmt.Printf("\n%d results, %s total\n", len(entries), humanize.Bytes(uint64(total)))
	return nil
}

func runStoreRestore(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(storeDir)
	if err != nil {
		return err
	}

	stubs := stub.New(stub.Config{WorkDir: workDir})
	result := stubs.Restore(args[0])
	if !result.Found {
		// The miss content is the recovery hint.
		return fmt.Errorf("%s", result.Content)
	}

	fmt.Print(result.Content)
	if !strings.HasSuffix(result.Content, "\n") {
		fmt.Println()
	}
	return nil
}

func runStoreEvict(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(storeDir)
	if err != nil {
		return err
	}

	dir := stub.SidecarDir(workDir)
	entries, total, err := readStoreEntries(dir)
	if err != nil {
		return err
	}

	evicted := 0
	for _, e := range entries {
		if total <= storeMaxBytes {
			break
		}
		if err := os.Remove(filepath.Join(dir, e.Identifier+".txt")); err != nil {
			return err
		}
		total -= e.Bytes
		evicted++
	}

	fmt.Printf("evicted %d results, %s remaining\n", evicted, humanize.Bytes(uint64(total)))
	return nil
}

func runStoreGC(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(storeDir)
	if err != nil {
		return err
	}

	dir := stub.SidecarDir(workDir)
	entries, _, err := readStoreEntries(dir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-storeMaxAge)
	removed := 0
	for _, e := range entries {
		if !e.Modified.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Identifier+".txt")); err != nil {
			return err
		}
		removed++
	}

	fmt.Printf("removed %d results older than %s\n", removed, storeMaxAge)
	return nil
}
