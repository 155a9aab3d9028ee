// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/juju/etcd-coordinator/core/status"
)

type statusDoc struct {
	Status  string     `yaml:"status"`
	Message string     `yaml:"message,omitempty"`
	Since   *time.Time `yaml:"since,omitempty"`
}

// StatusFile records the unit's status in a file, where the status
// command picks it up.
type StatusFile struct {
	path string
}

var _ status.StatusSetter = (*StatusFile)(nil)

// NewStatusFile returns a StatusFile writing to path.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// SetStatus is part of status.StatusSetter.
func (f *StatusFile) SetStatus(info status.StatusInfo) error {
	if !status.ValidWorkloadStatus(info.Status) {
		return errors.NotValidf("status %q", info.Status)
	}
	data, err := yaml.Marshal(statusDoc{
		Status:  info.Status.String(),
		Message: info.Message,
		Since:   info.Since,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotate(utils.AtomicWriteFile(f.path, data, 0644), "writing status")
}

// Status returns the status last recorded.
func (f *StatusFile) Status() (status.StatusInfo, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return status.StatusInfo{Status: status.Unknown}, nil
	} else if err != nil {
		return status.StatusInfo{}, errors.Trace(err)
	}
	var doc statusDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return status.StatusInfo{}, errors.Annotatef(err, "parsing %q", f.path)
	}
	return status.StatusInfo{
		Status:  status.Status(doc.Status),
		Message: doc.Message,
		Since:   doc.Since,
	}, nil
}
