package main

import (
	"fmt"

	"bscanner/internal/state"
	"bscanner/internal/store"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var sessionCommand = &cobra.Command{
	Use:   "session",
	Short: "manage saved initial states",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var sessionShowCommand = &cobra.Command{
	Use:   "show",
	Short: "print a session and its last result",
	RunE: func(*cobra.Command, []string) error {
		return errors.Wrap(sessionShow(), "session")
	},
}

var sessionListCommand = &cobra.Command{
	Use:   "list",
	Short: "list the sessions in the store",
	RunE: func(*cobra.Command, []string) error {
		return errors.Wrap(sessionList(), "session")
	},
}

var sessionImportCommand = &cobra.Command{
	Use:   "import",
	Short: "copy a session file into the store",
	RunE: func(*cobra.Command, []string) error {
		return errors.Wrap(sessionImport(), "session")
	},
}

var sessionDeleteCommand = &cobra.Command{
	Use:   "delete",
	Short: "delete a session from the store",
	RunE: func(*cobra.Command, []string) error {
		return errors.Wrap(sessionDelete(), "session")
	},
}

func init() {
	sessionCommand.PersistentFlags().StringVar(&StorePath, "store", "", "session store directory")
	sessionCommand.PersistentFlags().StringVar(&SessionName, "name", "", "session name in the store")
	sessionShowCommand.Flags().StringVar(&SessionFile, "session", "", "initial state json file")
	sessionImportCommand.Flags().StringVar(&SessionFile, "session", "", "initial state json file")

	sessionCommand.AddCommand(sessionShowCommand)
	sessionCommand.AddCommand(sessionListCommand)
	sessionCommand.AddCommand(sessionImportCommand)
	sessionCommand.AddCommand(sessionDeleteCommand)
}

func openStore() (*store.SessionStore, error) {
	if StorePath == "" {
		return nil, errors.New("--store is required")
	}
	return store.NewSessionStore(StorePath)
}

func sessionShow() error {
	if SessionFile != "" {
		session, err := state.LoadInitialState(SessionFile)
		if err != nil {
			return err
		}
		return printSession(session)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	session, err := db.Get(SessionName)
	if err != nil {
		return err
	}
	if err = printSession(session); err != nil {
		return err
	}
	var result runResult
	if err = db.GetResult(SessionName, &result); err == nil {
		fmt.Printf("last run: %d instructions, %d paths, %d issues\n",
			result.Stats.Instructions, result.Stats.Paths, len(result.Issues))
		if result.Error != "" {
			fmt.Printf("last error: %s\n", result.Error)
		}
	} else if errors.Cause(err) != store.ErrNotFound {
		return err
	}
	return nil
}

func printSession(session *state.InitialState) error {
	data, err := session.Marshal()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func sessionList() error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	names, err := db.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func sessionImport() error {
	if SessionFile == "" || SessionName == "" {
		return errors.New("--session and --name are required")
	}
	session, err := state.LoadInitialState(SessionFile)
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Put(SessionName, session)
}

func sessionDelete() error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Delete(SessionName)
}
