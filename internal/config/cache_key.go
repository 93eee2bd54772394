package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentPaperKey returns the cache key for a student's shuffled exam paper.
func (r *CacheKeyStruct) StudentPaperKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:paper", studentID, examID)
}

// ExamQuestionSetKey returns the cache key for an exam's question-id set.
func (r *CacheKeyStruct) ExamQuestionSetKey(examID string) string {
	return fmt.Sprintf("exam:%s:question_set", examID)
}

// MonitorChannel returns the Redis PubSub channel name for attempt
// lifecycle events consumed by the ops monitor stream.
func (r *CacheKeyStruct) MonitorChannel() string {
	return "attempts:monitor"
}

var CacheKey = NewCacheKeyStruct()
