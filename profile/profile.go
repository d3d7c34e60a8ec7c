package profile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

const activeProfileKey = "active_profile"

// Create makes a new empty profile.
func (d *DB) Create(name string) (*Profile, error) {
	if name == "" {
		return nil, errors.New("profile name must not be empty")
	}
	var count int64
	d.g.Model(&Profile{}).Where("name = ?", name).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrProfileExists)
	}
	p := &Profile{Name: name}
	if err := d.g.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads a profile with its entries in precedence order.
func (d *DB) Get(name string) (*Profile, error) {
	var p Profile
	err := d.g.Preload("Entries", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%q: %w", name, ErrProfileNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns all profile names, sorted.
func (d *DB) List() ([]string, error) {
	var names []string
	if err := d.g.Model(&Profile{}).Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Rename changes a profile's name.
func (d *DB) Rename(oldName, newName string) error {
	p, err := d.Get(oldName)
	if err != nil {
		return err
	}
	var count int64
	d.g.Model(&Profile{}).Where("name = ?", newName).Count(&count)
	if count > 0 {
		return fmt.Errorf("%q: %w", newName, ErrProfileExists)
	}
	if err := d.g.Model(p).Update("name", newName).Error; err != nil {
		return err
	}
	if active, _ := d.ActiveProfile(); active == oldName {
		return d.SetActiveProfile(newName)
	}
	return nil
}

// Delete removes a profile and its entries.
func (d *DB) Delete(name string) error {
	p, err := d.Get(name)
	if err != nil {
		return err
	}
	return d.g.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile_id = ?", p.ID).Delete(&Entry{}).Error; err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
}

// Duplicate copies a profile's entries under a new name.
func (d *DB) Duplicate(srcName, dstName string) error {
	src, err := d.Get(srcName)
	if err != nil {
		return err
	}
	dst, err := d.Create(dstName)
	if err != nil {
		return err
	}
	for _, e := range src.Entries {
		entry := Entry{
			ProfileID:     dst.ID,
			Position:      e.Position,
			Spec:          e.Spec,
			Enabled:       e.Enabled,
			PinnedVersion: e.PinnedVersion,
		}
		if err := d.g.Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}

// AddMod appends a spec at the bottom of the list. Adding a spec already
// present is an error.
func (d *DB) AddMod(profileName, spec string) error {
	p, err := d.Get(profileName)
	if err != nil {
		return err
	}
	for _, e := range p.Entries {
		if e.Spec == spec {
			return fmt.Errorf("%q is already in profile %q", spec, profileName)
		}
	}
	entry := Entry{
		ProfileID: p.ID,
		Position:  len(p.Entries),
		Spec:      spec,
		Enabled:   true,
	}
	return d.g.Create(&entry).Error
}

// RemoveMod deletes a spec from the list and closes the position gap.
func (d *DB) RemoveMod(profileName, spec string) error {
	p, err := d.Get(profileName)
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range p.Entries {
		if e.Spec == spec {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%q: %w", spec, ErrEntryNotFound)
	}
	return d.g.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&p.Entries[idx]).Error; err != nil {
			return err
		}
		for i := idx + 1; i < len(p.Entries); i++ {
			if err := tx.Model(&p.Entries[i]).Update("position", i-1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// MoveMod places a spec at the given position, shifting its neighbors.
// Positions outside the list clamp to its ends.
func (d *DB) MoveMod(profileName, spec string, position int) error {
	p, err := d.Get(profileName)
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range p.Entries {
		if e.Spec == spec {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%q: %w", spec, ErrEntryNotFound)
	}
	if position < 0 {
		position = 0
	}
	if position >= len(p.Entries) {
		position = len(p.Entries) - 1
	}
	if position == idx {
		return nil
	}

	moved := p.Entries[idx]
	rest := append(append([]Entry{}, p.Entries[:idx]...), p.Entries[idx+1:]...)
	ordered := append(append(append([]Entry{}, rest[:position]...), moved), rest[position:]...)
	return d.g.Transaction(func(tx *gorm.DB) error {
		for i := range ordered {
			if err := tx.Model(&ordered[i]).Update("position", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SetEnabled toggles a spec without removing it from the list.
func (d *DB) SetEnabled(profileName, spec string, enabled bool) error {
	entry, err := d.findEntry(profileName, spec)
	if err != nil {
		return err
	}
	return d.g.Model(entry).Update("enabled", enabled).Error
}

// PinVersion pins a spec to a specific provider version. An empty version
// returns the entry to tracking the latest.
func (d *DB) PinVersion(profileName, spec, version string) error {
	entry, err := d.findEntry(profileName, spec)
	if err != nil {
		return err
	}
	return d.g.Model(entry).Update("pinned_version", version).Error
}

func (d *DB) findEntry(profileName, spec string) (*Entry, error) {
	p, err := d.Get(profileName)
	if err != nil {
		return nil, err
	}
	for i, e := range p.Entries {
		if e.Spec == spec {
			return &p.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%q: %w", spec, ErrEntryNotFound)
}

// ActiveProfile returns the currently selected profile name, or "" when
// none has been chosen yet.
func (d *DB) ActiveProfile() (string, error) {
	var s Setting
	err := d.g.Where("key = ?", activeProfileKey).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// SetActiveProfile selects the profile used when none is named.
func (d *DB) SetActiveProfile(name string) error {
	if _, err := d.Get(name); err != nil {
		return err
	}
	s := Setting{Key: activeProfileKey, Value: name}
	return d.g.Save(&s).Error
}

// RecordInstall saves what an install wrote, replacing any prior record.
func (d *DB) RecordInstall(rec *InstallRecord) error {
	rec.InstalledAt = time.Now().UTC()
	return d.g.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&InstallRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

// LastInstall returns the most recent install record, or nil when the
// game has no bundle installed.
func (d *DB) LastInstall() (*InstallRecord, error) {
	var rec InstallRecord
	err := d.g.Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClearInstall drops the install record after a successful uninstall.
func (d *DB) ClearInstall() error {
	return d.g.Where("1 = 1").Delete(&InstallRecord{}).Error
}
