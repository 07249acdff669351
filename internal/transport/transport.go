package transport

import (
	"github.com/gin-gonic/gin"
)

func InitRoutes(flowHandler *FlowHandler, deviceHandler *DeviceHandler) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = 8 << 20

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	flows := router.Group("/flows")
	{
		flows.POST("", flowHandler.CreateFlow)
		flows.GET("/:id", flowHandler.GetFlow)
		flows.DELETE("/:id", flowHandler.DeleteFlow)
		flows.POST("/:id/upload", flowHandler.UploadFlow)
		flows.POST("/:id/retry", flowHandler.RetryFlow)
		flows.GET("/:id/preview", flowHandler.GetPreview)
	}

	dev := router.Group("/device")
	{
		dev.GET("/groups", deviceHandler.ListGroups)
		dev.POST("/groups", deviceHandler.CreateGroup)
		dev.GET("/groups/images", deviceHandler.ListGroupImages)
		dev.DELETE("/groups/images", deviceHandler.DeleteGroupImage)
		dev.PUT("/groups/:id", deviceHandler.RenameGroup)
		dev.DELETE("/groups/:id", deviceHandler.DeleteGroup)

		dev.GET("/screens/:screen/slots/:slot", deviceHandler.SlotImage)
		dev.POST("/screens/:screen/slots/:slot", deviceHandler.ShowSlot)
		dev.DELETE("/screens/:screen/slots/:slot", deviceHandler.DeleteSlot)
	}

	router.GET("/settings/device", deviceHandler.GetAddress)
	router.PUT("/settings/device", deviceHandler.SetAddress)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "espdisplay",
		})
	})
	return router
}
