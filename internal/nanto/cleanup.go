package nanto

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func handleCleanCommand(args []string) error {
	cleanCmd := flag.NewFlagSet("clean", flag.ExitOnError)
	cleanTree := cleanCmd.Bool("tree", false, "Remove the unpacked source tree.")
	cleanCache := cleanCmd.Bool("cache", false, "Remove all cached downloads.")
	cleanLogs := cleanCmd.Bool("logs", false, "Remove archived compile logs.")
	cleanAll := cleanCmd.Bool("all", false, "tree, cache and logs.")

	if err := cleanCmd.Parse(args); err != nil {
		return err // Should not happen with flag.ExitOnError
	}

	// If no flags are provided, show help and exit
	if !*cleanTree && !*cleanCache && !*cleanLogs && !*cleanAll {
		fmt.Println("Usage: nanto clean [flag]")
		fmt.Println("You must specify what to clean up. Use one of the following flags:")
		cleanCmd.PrintDefaults()
		return nil
	}

	if *cleanAll {
		*cleanTree = true
		*cleanCache = true
		*cleanLogs = true
	}

	if *cleanTree {
		cPrintf(colArrow, "-> ")
		cPrintf(colWarn, "Deleting source tree at %s.\n", sourceTree)
		if askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			debugf("Removing source tree: %s\n", sourceTree)
			if err := os.RemoveAll(sourceTree); err != nil {
				return fmt.Errorf("failed to remove source tree: %w", err)
			}
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Source tree removed successfully.")
		} else {
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Cleanup of source tree canceled.")
		}
	}

	if *cleanCache {
		cPrintf(colWarn, "This will permanently delete all cached downloads at %s.\n", downloadCache)
		if askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			debugf("Clearing download cache: %s\n", downloadCache)
			entries, err := os.ReadDir(downloadCache)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to read download cache: %w", err)
			}
			// Locked files belong to an in-flight download and are left alone.
			for _, e := range entries {
				if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".lock") {
					tryRemoveCachedFile(filepath.Join(downloadCache, e.Name()))
				}
			}
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Download cache cleared successfully.")
		} else {
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Cleanup of download cache canceled.")
		}
	}

	if *cleanLogs {
		cPrintf(colWarn, "This will permanently delete all compile logs at %s.\n", logsDir)
		if askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			debugf("Removing logs directory: %s\n", logsDir)
			if err := os.RemoveAll(logsDir); err != nil {
				return fmt.Errorf("failed to remove logs: %w", err)
			}
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Compile logs removed successfully.")
		} else {
			cPrintf(colArrow, "-> ")
			cPrintln(colSuccess, "Cleanup of compile logs canceled.")
		}
	}

	return nil
}
