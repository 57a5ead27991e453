package http

import "github.com/gin-gonic/gin"

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// bindError 统一的请求体校验失败响应
func bindError(c *gin.Context, err error) {
	ErrorResponse(c, 400, "invalid request body: "+err.Error())
}
