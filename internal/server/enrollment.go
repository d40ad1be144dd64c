package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/classpay/internal/authorization"
	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
)

type rosterFunc func(ctx context.Context, classID, memberID string) (enrollmentdomain.RosterChangeResult, error)

func (s *Server) EnrollStudent(c *gin.Context) {
	s.changeRoster(c, "studentId", s.rosterSvc.EnrollStudent)
}

func (s *Server) UnenrollStudent(c *gin.Context) {
	s.changeRoster(c, "studentId", s.rosterSvc.UnenrollStudent)
}

func (s *Server) AssignTeacher(c *gin.Context) {
	s.changeRoster(c, "teacherId", s.rosterSvc.AssignTeacher)
}

func (s *Server) UnassignTeacher(c *gin.Context) {
	s.changeRoster(c, "teacherId", s.rosterSvc.UnassignTeacher)
}

func (s *Server) changeRoster(c *gin.Context, memberParam string, fn rosterFunc) {
	classID := strings.TrimSpace(c.Param("id"))
	memberID := strings.TrimSpace(c.Param(memberParam))
	c.Set("class_id", classID)

	result, err := fn(c.Request.Context(), classID, memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"class_id":  classID,
		"member_id": memberID,
		"result":    result,
		"changed":   result.Changed(),
	})
}

func (s *Server) EnrollmentStatus(c *gin.Context) {
	classID := strings.TrimSpace(c.Param("id"))
	studentID := strings.TrimSpace(c.Param("studentId"))
	c.Set("class_id", classID)

	if err := s.authorizeOwner(c, authorization.ObjectEnrollment, authorization.ActionEnrollmentView, studentID); err != nil {
		AbortWithError(c, err)
		return
	}

	enrolled, err := s.rosterSvc.Status(c.Request.Context(), classID, studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"class_id":   classID,
		"student_id": studentID,
		"enrolled":   enrolled,
	})
}
