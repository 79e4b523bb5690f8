package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
)

// addCourse seeds a course.Course from a JSON file.
func (cli *commandLine) addCourse(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}

	var crs course.Course
	if err := json.Unmarshal(data, &crs); err != nil {
		return err
	}
	crs.Title = core.CleanString(crs.Title)
	if crs.Title == "" {
		return errors.New("course title is required")
	}
	if crs.Status == "" {
		crs.Status = course.StatusDraft
	}

	now := time.Now().UTC()
	crs.CreatedAt = now
	crs.UpdatedAt = now

	crs, err = cli.courseRepo.CreateCourse(context.Background(), crs)
	if err != nil {
		return err
	}
	logger.Printf("course %q created: %s\n", crs.Title, crs.ID)
	return nil
}
