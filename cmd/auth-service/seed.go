package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage/memory"
)

// seedFile - начальное содержимое хранилищ в памяти (окружение local без БД).
type seedFile struct {
	Accounts []seedAccount `yaml:"accounts"`
	Patients []int64       `yaml:"patients"`
}

type seedAccount struct {
	Identifier string `yaml:"identifier"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Active     *bool  `yaml:"active"`
}

// loadSeed читает seed-файл и собирает хранилища в памяти.
// Пароли хэшируются тем же Manager, что использует сервис.
func loadSeed(path string, creds *credentials.Manager) (*memory.Users, *memory.Resources, error) {
	const op = "main.loadSeed"

	var seed seedFile
	if err := cleanenv.ReadConfig(path, &seed); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	accounts := make([]*models.Account, 0, len(seed.Accounts))
	for i, a := range seed.Accounts {
		identifier := models.NormalizeIdentifier(a.Identifier)
		if identifier == "" || a.Password == "" {
			return nil, nil, fmt.Errorf("%s: account #%d: identifier and password are required", op, i)
		}

		role := models.Role(a.Role)
		if !role.Valid() {
			return nil, nil, fmt.Errorf("%s: account %q: unknown role %q", op, identifier, a.Role)
		}

		hash, err := creds.Hash(a.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: account %q: %w", op, identifier, err)
		}

		active := true
		if a.Active != nil {
			active = *a.Active
		}

		accounts = append(accounts, &models.Account{
			ID:           uuid.New(),
			Identifier:   identifier,
			PasswordHash: hash,
			Role:         role,
			Active:       active,
		})
	}

	return memory.NewUsers(accounts...), memory.NewResources(seed.Patients...), nil
}
