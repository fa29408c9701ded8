// Command bdevolstat is a tiny smoke-test CLI over the bdevolume library:
// point it at a raw volume image and a credential, and it prints the
// volume's parsed metadata. It is not a forensic front-end (that is
// explicitly out of scope for the core library) - just enough to
// exercise Open/Unlock/accessors end to end from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bdevolume"
	"bdevolume/internal/bdelog"
	"bdevolume/internal/bdeutil"
)

var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "bdevolstat <image>",
		Short:   "Print BitLocker volume metadata",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE:    runStat,
	}

	root.Flags().Bool("recovery", false, "prompt for a recovery password")
	root.Flags().Bool("password", false, "prompt for a user password")
	root.Flags().String("startup-key", "", "path to a .BEK startup-key file")
	root.Flags().BoolP("verbose", "v", false, "enable debug logging")

	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func runStat(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		bdelog.EnableDebugLogging()
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	vol := bdevolume.New()
	defer vol.Close()

	if err := vol.Open(fileSource{f}); err != nil {
		return fmt.Errorf("open volume: %w", err)
	}

	if vol.IsLocked() {
		if err := configureCredentials(cmd, vol); err != nil {
			return err
		}
		unlocked, err := vol.Unlock()
		if err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		if !unlocked {
			return fmt.Errorf("volume is still locked: no configured credential matched a protector")
		}
	}

	return printSummary(vol)
}

func configureCredentials(cmd *cobra.Command, vol *bdevolume.Volume) error {
	wantRecovery, _ := cmd.Flags().GetBool("recovery")
	wantPassword, _ := cmd.Flags().GetBool("password")
	startupKeyPath, _ := cmd.Flags().GetString("startup-key")

	if wantRecovery {
		pw, err := readPasswordSecure("Recovery password: ")
		if err != nil {
			return err
		}
		if err := vol.SetRecoveryPassword(pw); err != nil {
			return err
		}
	}
	if wantPassword {
		pw, err := readPasswordSecure("Password: ")
		if err != nil {
			return err
		}
		if err := vol.SetPassword(pw); err != nil {
			return err
		}
	}
	if startupKeyPath != "" {
		if err := vol.ReadStartupKey(startupKeyPath); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(vol *bdevolume.Volume) error {
	size, err := vol.Size()
	if err != nil {
		return err
	}
	method, err := vol.EncryptionMethod()
	if err != nil {
		return err
	}
	id, err := vol.VolumeIdentifier()
	if err != nil {
		return err
	}
	creationTime, err := vol.CreationTime()
	if err != nil {
		return err
	}
	n, err := vol.NumberOfKeyProtectors()
	if err != nil {
		return err
	}

	fmt.Printf("size:              %d bytes\n", size)
	fmt.Printf("encryption method: 0x%04x\n", uint16(method))
	fmt.Printf("volume identifier: %s\n", id)
	fmt.Printf("created:           %s\n", bdeutil.FILETimeToUnix(creationTime))
	fmt.Printf("key protectors:    %d\n", n)
	for i := 0; i < n; i++ {
		p, err := vol.KeyProtector(i)
		if err != nil {
			return err
		}
		fmt.Printf("  [%d] %s %s\n", i, p.ProtectionType, p.Identifier)
	}
	return nil
}

// fileSource adapts *os.File to bdeio.Source.
type fileSource struct {
	f *os.File
}

func (s fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s fileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
