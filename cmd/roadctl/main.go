// Package main is the operator command line for the road damage server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"roaddamage/internal/app"
	"roaddamage/internal/config"
	"roaddamage/internal/model"
	"roaddamage/internal/service/auth"
)

const (
	flagUsername = "username"
	flagName     = "name"
	flagEmail    = "email"
	flagPassword = "password"
	flagUser     = "user"
	flagOut      = "out"
	flagLimit    = "limit"
	flagPurge    = "purge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "roadctl",
		Usage: "manage users and run road damage assessments from the shell",
		Commands: []*cli.Command{
			{
				Name:  "user",
				Usage: "work with the credentials file",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "register a new user",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagUsername, Required: true},
							&cli.StringFlag{Name: flagName, Required: true},
							&cli.StringFlag{Name: flagEmail, Required: true},
							&cli.StringFlag{Name: flagPassword, Required: true},
						},
						Action: userAddAction,
					},
					{
						Name:  "passwd",
						Usage: "set the password of an existing user",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagUsername, Required: true},
							&cli.StringFlag{Name: flagPassword, Required: true},
						},
						Action: userPasswdAction,
					},
					{
						Name:   "list",
						Usage:  "list registered usernames",
						Action: userListAction,
					},
				},
			},
			{
				Name:      "assess",
				Usage:     "run the damage assessment over a video",
				ArgsUsage: "<video.mp4>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagUser, Value: "roadctl", Usage: "owner of the recorded assessment"},
				},
				Action: assessAction,
			},
			{
				Name:      "image",
				Usage:     "run the image inspection chain over a JPEG",
				ArgsUsage: "<image.jpg>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Usage: "write every stage as JPEG into `DIR`"},
				},
				Action: imageAction,
			},
			{
				Name:  "history",
				Usage: "list or purge recorded assessments",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagUser, Usage: "only show this user's assessments"},
					&cli.IntFlag{Name: flagLimit, Value: 20},
					&cli.BoolFlag{Name: flagPurge, Usage: "delete the assessments instead of listing them"},
				},
				Action: historyAction,
			},
			{
				Name:   "migrate",
				Usage:  "create or upgrade the assessment database",
				Action: migrateAction,
			},
		},
	}
}

func withComponents(fn func(c *app.Components) error) error {
	components, err := app.NewComponents(config.Load())
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(components)
}

func userAddAction(c *cli.Context) error {
	return withComponents(func(comp *app.Components) error {
		err := comp.Authenticator.Register(auth.RegisterRequest{
			Username:       c.String(flagUsername),
			Name:           c.String(flagName),
			Email:          c.String(flagEmail),
			Password:       c.String(flagPassword),
			RepeatPassword: c.String(flagPassword),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "registered %s in %s\n", c.String(flagUsername), comp.Credentials.Path())
		return nil
	})
}

func userPasswdAction(c *cli.Context) error {
	return withComponents(func(comp *app.Components) error {
		if err := comp.Authenticator.SetPassword(c.String(flagUsername), c.String(flagPassword)); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "password changed for %s\n", c.String(flagUsername))
		return nil
	})
}

func userListAction(c *cli.Context) error {
	return withComponents(func(comp *app.Components) error {
		for _, username := range comp.Credentials.Usernames() {
			fmt.Fprintln(c.App.Writer, username)
		}
		return nil
	})
}

func assessAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one video path", 1)
	}
	path := c.Args().First()

	return withComponents(func(comp *app.Components) error {
		manager := comp.NewManager(nil)
		defer manager.Close()

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		a, err := manager.AssessVideo(c.Context, c.String(flagUser), filepath.Base(path), file)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s: %s, %d frame(s), final damage %.2f%%, peak %.2f%%\n",
			a.ID, a.Status, a.Frames, a.FinalDamage, a.PeakDamage)
		fmt.Fprintf(c.App.Writer, "annotated video: %s\n", a.OutputPath)
		return nil
	})
}

func imageAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one image path", 1)
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	return withComponents(func(comp *app.Components) error {
		manager := comp.NewManager(nil)
		defer manager.Close()

		report, err := manager.ProcessImage(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s (%d contour(s), %dx%d)\n",
			report.Message, report.ContourCount, report.Width, report.Height)

		out := c.String(flagOut)
		if out == "" {
			return nil
		}
		if err := os.MkdirAll(out, 0755); err != nil {
			return err
		}
		for _, stage := range report.Stages {
			if err := os.WriteFile(filepath.Join(out, stage.Name+".jpg"), stage.JPEG, 0644); err != nil {
				return err
			}
		}
		fmt.Fprintf(c.App.Writer, "wrote %d stage(s) to %s\n", len(report.Stages), out)
		return nil
	})
}

func historyAction(c *cli.Context) error {
	if c.Bool(flagPurge) {
		return withComponents(func(comp *app.Components) error {
			return purgeHistory(c, comp, c.String(flagUser))
		})
	}

	return withComponents(func(comp *app.Components) error {
		assessments, err := comp.AssessmentRepo.GetAll(&model.AssessmentFilter{
			Username: c.String(flagUser),
			Limit:    c.Int(flagLimit),
		})
		if err != nil {
			return err
		}
		for _, a := range assessments {
			fmt.Fprintf(c.App.Writer, "%s  %-10s %-12s %6d frame(s)  %6.2f%%  %s\n",
				a.StartedAt.Local().Format("2006-01-02 15:04"), a.Username, a.Status, a.Frames, a.FinalDamage, a.SourceName)
		}
		return nil
	})
}

// purgeHistory deletes the assessments of username, or every assessment when username is empty.
func purgeHistory(c *cli.Context, comp *app.Components, username string) error {
	if username == "" {
		if err := comp.AssessmentRepo.DeleteAll(); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "deleted all assessments")
		return nil
	}

	assessments, err := comp.AssessmentRepo.GetAll(&model.AssessmentFilter{Username: username})
	if err != nil {
		return err
	}
	for _, a := range assessments {
		if err := comp.FrameRepo.DeleteByAssessmentID(a.ID); err != nil {
			return err
		}
		if err := comp.AssessmentRepo.Delete(a.ID); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.App.Writer, "deleted %d assessment(s) of %s\n", len(assessments), username)
	return nil
}

func migrateAction(c *cli.Context) error {
	return withComponents(func(comp *app.Components) error {
		fmt.Fprintf(c.App.Writer, "database ready at %s\n", comp.Config.DatabasePath)
		return nil
	})
}
