package cli

import (
	"context"
	"fmt"

	"canvas/api/internal/client"
)

func (a *App) profile(ctx context.Context, arg string) error {
	switch arg {
	case "":
		user, err := a.api.Verify(ctx)
		if err != nil {
			return err
		}
		a.auth.SetUser(user)
		a.printProfile(user)
		return nil
	case "edit":
		return a.editProfile(ctx)
	}
	return fmt.Errorf("usage: profile [edit]")
}

func (a *App) editProfile(ctx context.Context) error {
	current := a.auth.User()
	name, err := readLine(a.in, a.out, fmt.Sprintf("Name [%s]", current.Name))
	if err != nil {
		return err
	}
	if name == "" {
		name = current.Name
	}
	update := client.ProfileUpdate{Name: name}
	bio, err := readLine(a.in, a.out, "Bio (blank keeps current)")
	if err != nil {
		return err
	}
	if bio != "" {
		update.Bio = &bio
	}
	avatar, err := readLine(a.in, a.out, "Avatar URL (blank keeps current)")
	if err != nil {
		return err
	}
	if avatar != "" {
		update.Avatar = &avatar
	}

	user, err := a.api.UpdateProfile(ctx, update)
	if err != nil {
		return err
	}
	a.auth.SetUser(user)
	a.println("Profile updated.")
	a.printProfile(user)
	return nil
}

func (a *App) printProfile(user client.User) {
	a.println("Name:  " + user.Name)
	a.println("Email: " + user.Email)
	if user.Bio != "" {
		a.println("Bio:   " + user.Bio)
	}
	if user.Avatar != "" {
		a.println("Avatar: " + user.Avatar)
	}
}

func (a *App) apiKey(ctx context.Context, arg string) error {
	switch arg {
	case "", "status":
		status, err := a.api.APIKeyStatus(ctx)
		if err != nil {
			return err
		}
		if !status.HasKey {
			a.println("No API key set. The server default is used.")
			return nil
		}
		a.println("API key: " + status.MaskedKey)
	case "set":
		key, err := readSecret(a.in, a.out, "API key")
		if err != nil {
			return err
		}
		masked, err := a.api.SetAPIKey(ctx, key)
		if err != nil {
			return err
		}
		a.println("API key saved: " + masked)
	case "rm":
		if err := a.api.RemoveAPIKey(ctx); err != nil {
			return err
		}
		a.println("API key removed.")
	default:
		return fmt.Errorf("usage: apikey [status|set|rm]")
	}
	return nil
}
